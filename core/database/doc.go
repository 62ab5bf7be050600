// Package database persists session state in MySQL through GORM.
//
// Every flat key of a session is one row of the world_keys table. The Repository
// loads a session, applies store notifications to it, and replaces it on reset.
//
// # Schema Inspection
//
// VerifySchema checks the live table against the columns the repository relies on,
// so a stale schema is reported at startup rather than on the first write.
//
// # Usage
//
//	db, err := database.Connect(cfg.Database)
//	if err != nil {
//	    log.Fatal("Database connection failed", err)
//	}
//	repo := database.NewRepository(db)
//	flat, err := repo.Load(ctx, "lobby")
package database
