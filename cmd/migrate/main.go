// Command migrate applies the SQL files in the migrations directory, in
// lexical order, each inside its own transaction. With -list it instead
// prints which of the bounce-monitor tables already exist.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ignite/bounce-monitor/internal/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding *.sql migration files")
	listOnly := flag.Bool("list", false, "list existing bounce-monitor tables and exit")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("cannot open database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("cannot reach database", "error", err.Error())
		os.Exit(1)
	}

	if *listOnly {
		if err := listTables(ctx, db); err != nil {
			logger.Error("list tables failed", "error", err.Error())
			os.Exit(1)
		}
		return
	}

	ok, failed, err := apply(ctx, db, *dir)
	if err != nil {
		logger.Error("migration run failed", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("migrations complete", "applied", fmt.Sprintf("%d", ok), "failed", fmt.Sprintf("%d", failed))
	if failed > 0 {
		os.Exit(1)
	}
}

func listTables(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT tablename FROM pg_tables WHERE schemaname='public'
		AND tablename IN ('suppressions','domain_delivery_stats','reputation_snapshots','bounce_credentials','sender_limits')
		ORDER BY tablename`)
	if err != nil {
		return err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
	return rows.Err()
}

// apply runs every non-empty *.sql file under dir. A failing file rolls its
// own transaction back and the run continues, so a partially broken set of
// migrations reports every error in one pass.
func apply(ctx context.Context, db *sql.DB, dir string) (ok, failed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		path := filepath.Join(dir, f)
		data, err := os.ReadFile(path)
		if err != nil {
			return ok, failed, fmt.Errorf("read %s: %w", path, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			logger.Error("begin failed", "file", f, "error", err.Error())
			failed++
			continue
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			tx.Rollback()
			logger.Error("migration failed", "file", f, "error", err.Error())
			failed++
			continue
		}
		if err := tx.Commit(); err != nil {
			logger.Error("commit failed", "file", f, "error", err.Error())
			failed++
			continue
		}
		logger.Info("migration applied", "file", f)
		ok++
	}
	return ok, failed, nil
}
