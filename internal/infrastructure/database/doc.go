// Package database provides SQLite storage for Gray Logic Edge.
//
// Only the shadow document history is persisted here; the offline publish
// queue deliberately stays in memory.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Numbered schema migrations read from an fs.FS
//   - Transaction scoping via WithTx
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
