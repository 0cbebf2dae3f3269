// Package database owns the scanner's SQLite connection and schema.
//
// Open configures the connection for this workload: WAL mode so history
// reads don't block persistence writes, a busy timeout against lock
// errors, a single connection (SQLite has one writer), and 0600 file
// permissions. Migrate applies the embedded schema migrations, each in
// its own transaction.
//
//	db, err := database.Open(database.Config{Path: path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns arrive nullable or with
// defaults, and every up file ships a down file for development
// rollbacks.
package database
