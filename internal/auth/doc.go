// Package auth provides authorisation for the feeder core.
//
// It implements a two-tier role model:
//   - operator: read-only, may view device snapshots
//   - developer: full access, may issue commands, edit schedules, publish
//     raw messages and manage the bus connection
//
// Authentication happens elsewhere. The core receives HS256 JWTs issued by
// the external auth server and never handles passwords. The Gate re-reads
// the caller's role on every check, so a role change during a session takes
// effect on the next command.
package auth
