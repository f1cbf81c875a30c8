// Command testkit-cleanup drops orphaned test databases left behind by
// crashed or killed test runs. It is a best-effort fallback, never the
// primary cleanup mechanism (that is TestDatabaseInstance.Close and
// TestDatabaseTemplate.Close) — grounded on the teacher's own
// cmd/cleanup-test-dbs/main.go (open a root connection from env,
// enumerate, drop, report), rebuilt against the Backend capability
// instead of shelling out to pg_database/processlist SQL by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/yuku/testkit"
	"github.com/yuku/testkit/gormbackend"
	"github.com/yuku/testkit/mysql"
	"github.com/yuku/testkit/postgres"
	"github.com/yuku/testkit/sqlite"
)

func main() {
	prefix := flag.String("prefix", testkit.DefaultPrefix, "only databases named prefix_* are considered")
	dsn := flag.String("dsn", "", "admin connection string (defaults to ADMIN_DATABASE_URL, then DATABASE_URL)")
	backendName := flag.String("backend", "postgres", "postgres | mysql | sqlite | gorm")
	dryRun := flag.Bool("dry-run", false, "list matching databases without dropping them")
	flag.Parse()

	adminURL := *dsn
	if adminURL == "" {
		adminURL = os.Getenv("ADMIN_DATABASE_URL")
	}
	if adminURL == "" {
		adminURL = os.Getenv("DATABASE_URL")
	}
	if adminURL == "" {
		log.Fatal("testkit-cleanup: no DSN given; pass -dsn or set ADMIN_DATABASE_URL/DATABASE_URL")
	}

	cfg := testkit.DatabaseConfig{AdminURL: adminURL, UserURL: adminURL, Prefix: *prefix}
	backend, err := resolveBackend(*backendName, cfg)
	if err != nil {
		log.Fatalf("testkit-cleanup: %v", err)
	}

	lister, ok := backend.(testkit.Lister)
	if !ok {
		log.Fatalf("testkit-cleanup: backend %s does not support listing", backend.Name())
	}

	ctx := context.Background()
	names, err := lister.ListDatabases(ctx, *prefix)
	if err != nil {
		log.Fatalf("testkit-cleanup: list databases: %v", err)
	}

	if len(names) == 0 {
		fmt.Println("testkit-cleanup: no matching databases found")
		return
	}

	dropped, failed := 0, 0
	for _, name := range names {
		fmt.Printf("testkit-cleanup: found %s\n", name)
		if *dryRun {
			continue
		}
		if err := backend.TerminateConnections(ctx, name); err != nil {
			fmt.Printf("  warning: terminate connections: %v\n", err)
		}
		if err := backend.DropDatabase(ctx, name); err != nil {
			fmt.Printf("  failed: %v\n", err)
			failed++
			continue
		}
		fmt.Println("  dropped")
		dropped++
	}

	if *dryRun {
		fmt.Printf("testkit-cleanup: %d database(s) would be dropped\n", len(names))
		return
	}
	fmt.Printf("testkit-cleanup: dropped %d, failed %d, out of %d matched\n", dropped, failed, len(names))
	if failed > 0 {
		os.Exit(1)
	}
}

func resolveBackend(name string, cfg testkit.DatabaseConfig) (testkit.Backend, error) {
	switch name {
	case "postgres":
		return postgres.New(cfg), nil
	case "mysql":
		return mysql.New(cfg), nil
	case "sqlite":
		return sqlite.New(cfg), nil
	case "gorm":
		return gormbackend.New(postgres.New(cfg)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
