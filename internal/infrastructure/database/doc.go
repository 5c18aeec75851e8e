// Package database provides SQLite connectivity for the feeder core.
//
// The database holds the command audit trail only. Device state lives in
// the in-memory registry and is rebuilt from retained bus messages on
// start.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
//
// Migrations are additive and each ships with a .down.sql.
package database
