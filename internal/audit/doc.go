// Package audit records every operator command attempt in the SQLite
// command_audit table, including attempts that were rejected or could not
// be delivered.
//
// The command translator writes through the Recorder interface; the API
// reads through Repository.List.
package audit
