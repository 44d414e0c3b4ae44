// Command verify_schema checks a bintrade SQLite file for the expected tables and columns
// and reports active trades the settlement sweep would skip.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"bintrade-core/pkg/config"
	"bintrade-core/pkg/db"
)

var expected = map[string][]string{
	"users":         {"id", "username", "email", "password_hash", "role", "balance", "display_name", "phone", "avatar"},
	"bank_accounts": {"id", "user_id", "bank_name", "account_number", "account_name", "is_default"},
	"trades":        {"id", "user_id", "crypto_id", "entry_price", "amount", "direction", "duration", "profit_percentage", "status", "result", "predetermined_result", "created_at", "end_time"},
	"transactions":  {"id", "user_id", "type", "amount", "method", "status", "bank_account_id", "payment_proof", "note"},
	"settings":      {"key", "value", "updated_at"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	dbPath := flag.String("db", cfg.DBPath, "path to the SQLite database")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("database %s: %v", *dbPath, err)
	}
	fmt.Printf("Verifying database at: %s\n", *dbPath)

	database, err := db.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer database.Close()

	problems := 0
	for _, table := range []string{"users", "bank_accounts", "trades", "transactions", "settings"} {
		cols, err := columns(database, table)
		if err != nil {
			log.Fatalf("inspect %s: %v", table, err)
		}
		if len(cols) == 0 {
			fmt.Printf("❌ %s table MISSING\n", table)
			problems++
			continue
		}
		for _, col := range expected[table] {
			if _, ok := cols[col]; !ok {
				fmt.Printf("❌ %s.%s column MISSING\n", table, col)
				problems++
			}
		}
		fmt.Printf("✓ %s table checked\n", table)
	}

	if problems == 0 {
		trades, err := database.ListActiveTrades(context.Background())
		if err != nil {
			log.Fatalf("list active trades: %v", err)
		}
		for _, t := range trades {
			if _, ok := t.Expiry(); !ok {
				fmt.Printf("⚠️ active trade %s has no usable expiry (createdAt/duration)\n", t.ID)
				problems++
			}
		}
		fmt.Printf("✓ %d active trades scanned\n", len(trades))
	}

	if problems > 0 {
		fmt.Printf("\n%d problem(s) found\n", problems)
		os.Exit(1)
	}
	fmt.Println("\nSchema OK")
}

func columns(d *db.Database, table string) (map[string]struct{}, error) {
	rows, err := d.DB.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}
