// sentinel-check verifies the hash chain of recorded runs.
//
//	sentinel-check -all
//	sentinel-check run_abc123 run_def456
//
// Exit codes: 0 every checked chain is intact, 1 configuration error or a
// broken chain, 2 the database could not be reached.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/sentinelops/backend/internal/database"
	"github.com/sentinelops/backend/internal/eventlog"
)

func main() {
	logger := log.New(os.Stderr, "[CHECK] ", log.LstdFlags)

	all := flag.Bool("all", false, "verify every run in the database")
	dbURL := flag.String("db", "", "database URL (defaults to DATABASE_URL)")
	flag.Parse()

	_ = godotenv.Load()
	url := *dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		logger.Printf("no database configured: set DATABASE_URL or pass -db")
		os.Exit(1)
	}

	runIDs := flag.Args()
	if !*all && len(runIDs) == 0 {
		logger.Printf("nothing to check: pass run IDs or -all")
		os.Exit(1)
	}

	db, err := database.Open(url)
	if err != nil {
		logger.Printf("%v", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx := context.Background()
	if *all {
		runIDs, err = allRunIDs(ctx, db)
		if err != nil {
			logger.Printf("list runs: %v", err)
			os.Exit(2)
		}
	}

	events := eventlog.New(eventlog.NewSQLStore(db))
	broken := 0
	for _, id := range runIDs {
		res, err := events.Verify(ctx, id)
		if err != nil {
			logger.Printf("verify %s: %v", id, err)
			os.Exit(2)
		}
		if res.OK {
			fmt.Printf("%s  OK\n", id)
			continue
		}
		broken++
		fmt.Printf("%s  BROKEN at seq %d\n", id, res.BreakAt)
	}

	if broken > 0 {
		logger.Printf("%d of %d chains broken", broken, len(runIDs))
		os.Exit(1)
	}
}

func allRunIDs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM runs ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
