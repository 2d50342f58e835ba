// Command inspect prints the accounts stored in a live-queue badger directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"live-queue/repositories"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

func main() {
	_ = godotenv.Load()
	dbPath := flag.String("db", os.Getenv("BADGER_FILEPATH"), "Path to badger DB, BADGER_FILEPATH by default")
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "inspect: no database path, set -db or BADGER_FILEPATH")
		os.Exit(2)
	}

	if err := run(*dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	db, err := openDB(path)
	if err != nil {
		return fmt.Errorf("opening badger: %w", err)
	}
	defer db.Close()

	users, err := repositories.NewUserRepository(db).ListUsers(context.Background())
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Email", "Provider", "Password", "Created"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, u := range users {
		password := "no"
		if u.PasswordHash != "" {
			password = "yes"
		}
		table.Append([]string{u.ID, u.Name, u.Email, u.Provider, password, u.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	table.Render()
	fmt.Printf("%d account(s)\n", len(users))
	return nil
}

// openDB opens read-only. A directory left dirty by a crash is opened once in
// write mode so badger can truncate its value log.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)

	db, err := badger.Open(opts)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "Log truncate required") {
		return nil, err
	}
	repaired, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil).WithBypassLockGuard(true))
	if err != nil {
		return nil, fmt.Errorf("repair failed: %w", err)
	}
	_ = repaired.Close()
	return badger.Open(opts)
}
