// Package database provides a unified interface for connecting to
// persistence backends.
//
// The package supports multiple database backends (PostgreSQL and SQLite)
// and handles connection management and migrations automatically. Each
// backend provides two repos: the instance metadata index and the
// worklist.
//
// # Supported Backends
//
//   - PostgreSQL: Production-ready backend using pgx connection pool
//   - SQLite: Lightweight backend suitable for development and single-node deployments
//
// # Usage
//
//	cfg := database.Config{
//	    Type: "sqlite",
//	    DSN:  "dicomweb.db",
//	}
//
//	repos, cleanup, err := database.Connect(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cleanup()
//
//	index := repos.Instances
//	worklist := repos.Worklist
//
// # Concurrency
//
// WorklistRepo.Update runs its mutate closure inside the backend's
// transaction: SELECT FOR UPDATE on PostgreSQL, the single write
// connection on SQLite. Two concurrent claims of the same workitem
// cannot both observe the pre-claim state.
//
// # Subpackages
//
//   - database/postgres: PostgreSQL implementation using pgx
//   - database/sqlite: SQLite implementation using modernc.org/sqlite
package database
