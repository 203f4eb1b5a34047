// The migrate binary applies the SQL files in migrations/ in lexical order,
// one transaction per file. A failing file is rolled back and reported
// without stopping the rest, so a re-run after the fix picks up where the
// schema is.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	dir := flag.String("dir", "migrations", "directory of .sql files")
	list := flag.Bool("list", false, "list public tables instead of migrating")
	flag.Parse()

	godotenv.Load()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		fatal("connect: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fatal("ping: %v", err)
	}

	if *list {
		listTables(db)
		return
	}

	files, err := sqlFiles(*dir)
	if err != nil {
		fatal("%v", err)
	}

	applied, failed := 0, 0
	for _, name := range files {
		if err := applyFile(db, filepath.Join(*dir, name)); err != nil {
			fmt.Printf("  %s FAILED: %v\n", name, err)
			failed++
			continue
		}
		fmt.Printf("  %s ok\n", name)
		applied++
	}
	fmt.Printf("%d applied, %d failed\n", applied, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func sqlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func applyFile(db *sql.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(string(data)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func listTables(db *sql.DB) {
	rows, err := db.Query(
		"SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename")
	if err != nil {
		fatal("list tables: %v", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			fatal("scan: %v", err)
		}
		fmt.Println("  " + name)
		n++
	}
	fmt.Printf("%d tables\n", n)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
