package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ertvault/ertvault/internal/config"
	"github.com/ertvault/ertvault/internal/repository"
)

// inspector dumps recent settlement history and audit entries from the
// configured Postgres store. Ops tooling; not part of the serving path.
func main() {
	var (
		executor = flag.String("executor", "", "filter by executor address")
		limit    = flag.Int("limit", 20, "max rows")
		sinceHrs = flag.Int("since", 24, "look back this many hours")
		table    = flag.String("table", "settlements", "settlements | audit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("database.dsn is not configured")
	}

	db, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	from := time.Now().UTC().Add(-time.Duration(*sinceHrs) * time.Hour)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch *table {
	case "settlements":
		repo := repository.NewPostgresSettlementRepo(db)
		rows, err := repo.List(ctx, *executor, *limit, &from, nil)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("--- %d settlement rows since %s ---\n", len(rows), from.Format(time.RFC3339))
		for _, row := range rows {
			_ = enc.Encode(row)
		}
	case "audit":
		repo := repository.NewPostgresAuditRepo(db)
		rows, err := repo.List(ctx, *executor, *limit, &from, nil)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("--- %d audit rows since %s ---\n", len(rows), from.Format(time.RFC3339))
		for _, row := range rows {
			_ = enc.Encode(row)
		}
	default:
		log.Fatalf("Unknown table %q", *table)
	}
}
