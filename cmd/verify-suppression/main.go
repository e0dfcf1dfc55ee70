// Command verify-suppression checks a deployed bounce-monitor database:
// schema in place, uniqueness constraints live, and the stored data obeying
// the invariants the services rely on.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

var requiredTables = []string{
	"suppressions",
	"domain_delivery_stats",
	"reputation_snapshots",
	"bounce_credentials",
	"sender_limits",
}

type checkResult struct {
	Name    string
	Passed  bool
	Detail  string
	Elapsed time.Duration
}

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		user := envOrDefault("DB_USER", "ignite")
		pass := envOrDefault("DB_PASSWORD", "ignite_secret")
		dbname := envOrDefault("DB_NAME", "bounce_monitor")
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, pass, dbname)
	}

	fmt.Println("=========================================================")
	fmt.Println(" Bounce Monitor Database Verification")
	fmt.Println("=========================================================")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot connect to database: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Database connection established")
	fmt.Println()

	var results []checkResult

	for _, table := range requiredTables {
		results = append(results, checkTableExists(ctx, db, table))
	}
	results = append(results, checkUniqueConstraint(ctx, db, "suppressions", "email"))
	results = append(results, checkUniqueConstraint(ctx, db, "domain_delivery_stats", "domain, date"))
	results = append(results, checkUniqueConstraint(ctx, db, "bounce_credentials", "user_id, domain"))
	results = append(results, checkNormalizedEmails(ctx, db))
	results = append(results, checkKnownRiskLevels(ctx, db))
	results = append(results, checkSingleDefaultCredential(ctx, db))

	fmt.Println()
	fmt.Println("=========================================================")
	fmt.Println(" VERIFICATION REPORT")
	fmt.Println("=========================================================")

	allPassed := true
	for i, r := range results {
		status := "PASS ✓"
		if !r.Passed {
			status = "FAIL ✗"
			allPassed = false
		}
		fmt.Printf("  [%d] %-45s %s  (%s)\n", i+1, r.Name, status, r.Elapsed.Round(time.Millisecond))
		if r.Detail != "" {
			for _, line := range strings.Split(r.Detail, "\n") {
				fmt.Printf("      %s\n", line)
			}
		}
	}

	fmt.Println("=========================================================")
	if allPassed {
		fmt.Println("  OVERALL: PASS ✓")
		os.Exit(0)
	}
	fmt.Println("  OVERALL: FAIL ✗  One or more verifications failed")
	os.Exit(1)
}

func checkTableExists(ctx context.Context, db *sql.DB, table string) checkResult {
	start := time.Now()
	name := fmt.Sprintf("Table %s exists", table)

	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_tables WHERE schemaname = 'public' AND tablename = $1)`, table,
	).Scan(&exists)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Query error: %v", err), Elapsed: time.Since(start)}
	}
	if !exists {
		return checkResult{Name: name, Passed: false, Detail: "Table not found; run cmd/migrate", Elapsed: time.Since(start)}
	}

	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count); err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Count error: %v", err), Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Detail: fmt.Sprintf("rows=%d", count), Elapsed: time.Since(start)}
}

func checkUniqueConstraint(ctx context.Context, db *sql.DB, table, columns string) checkResult {
	start := time.Now()
	name := fmt.Sprintf("Unique constraint on %s(%s)", table, columns)

	query := `
		SELECT indexname, indexdef
		FROM pg_indexes
		WHERE tablename = $1 AND indexdef ILIKE 'CREATE UNIQUE INDEX%'
		ORDER BY indexname
	`
	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Query error: %v", err), Elapsed: time.Since(start)}
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var idxName, idxDef string
		if err := rows.Scan(&idxName, &idxDef); err != nil {
			return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Scan error: %v", err), Elapsed: time.Since(start)}
		}
		if strings.Contains(idxDef, "("+columns+")") {
			found = append(found, idxName)
		}
	}
	if err := rows.Err(); err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Rows error: %v", err), Elapsed: time.Since(start)}
	}

	if len(found) == 0 {
		return checkResult{Name: name, Passed: false, Detail: "No unique index covers these columns", Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Detail: strings.Join(found, ", "), Elapsed: time.Since(start)}
}

// The registry lower-cases every address before it touches the table. Rows
// that break that mean some writer bypassed the service.
func checkNormalizedEmails(ctx context.Context, db *sql.DB) checkResult {
	start := time.Now()
	name := "Suppressed addresses are normalized"

	var count int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppressions WHERE email <> LOWER(TRIM(email))`,
	).Scan(&count)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Query error: %v", err), Elapsed: time.Since(start)}
	}
	if count > 0 {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("%d rows are not lower-cased/trimmed", count), Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Elapsed: time.Since(start)}
}

func checkKnownRiskLevels(ctx context.Context, db *sql.DB) checkResult {
	start := time.Now()
	name := "Snapshot risk levels are known values"

	var count int64
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reputation_snapshots WHERE risk_level NOT IN ('low', 'medium', 'high')`,
	).Scan(&count)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Query error: %v", err), Elapsed: time.Since(start)}
	}
	if count > 0 {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("%d snapshots carry an unknown risk_level", count), Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Elapsed: time.Since(start)}
}

// Credential creation demotes the previous default in the same transaction,
// so more than one default per user means that path was bypassed.
func checkSingleDefaultCredential(ctx context.Context, db *sql.DB) checkResult {
	start := time.Now()
	name := "At most one default credential per user"

	rows, err := db.QueryContext(ctx, `
		SELECT user_id, COUNT(*)
		FROM bounce_credentials
		WHERE is_default = TRUE
		GROUP BY user_id
		HAVING COUNT(*) > 1
	`)
	if err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Query error: %v", err), Elapsed: time.Since(start)}
	}
	defer rows.Close()

	var offenders []string
	for rows.Next() {
		var userID string
		var n int64
		if err := rows.Scan(&userID, &n); err != nil {
			return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Scan error: %v", err), Elapsed: time.Since(start)}
		}
		offenders = append(offenders, fmt.Sprintf("%s (%d defaults)", userID, n))
	}
	if err := rows.Err(); err != nil {
		return checkResult{Name: name, Passed: false, Detail: fmt.Sprintf("Rows error: %v", err), Elapsed: time.Since(start)}
	}

	if len(offenders) > 0 {
		return checkResult{Name: name, Passed: false, Detail: strings.Join(offenders, "\n"), Elapsed: time.Since(start)}
	}
	return checkResult{Name: name, Passed: true, Elapsed: time.Since(start)}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
