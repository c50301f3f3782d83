package main

import (
	"flag"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"

	"library-lending/library"
)

// Seeds the catalog from a JSON file: an array of book field objects as
// accepted by AddBook. Example entry:
//
//	{"title":"Dom Casmurro","author":"Machado de Assis",
//	 "isbn":"978-85-359-0277-5","category":"Literatura Brasileira",
//	 "published_year":1899,"description":"..."}
func main() {
	dbPath := flag.String("db", "library.db", "path to the SQLite database")
	reset := flag.Bool("reset", false, "delete the database before importing")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: import_books [-db library.db] [-reset] books.json")
		os.Exit(2)
	}

	if *reset {
		for _, suffix := range []string{"", "-shm", "-wal"} {
			if err := os.Remove(*dbPath + suffix); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: could not remove %s%s: %v\n", *dbPath, suffix, err)
			}
		}
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading seed file: %v\n", err)
		os.Exit(1)
	}

	var entries []library.BookFields
	if err := jsoniter.Unmarshal(data, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing seed file: %v\n", err)
		os.Exit(1)
	}

	store, err := library.OpenStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	state, err := store.LoadState()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading state: %v\n", err)
		os.Exit(1)
	}

	successCount := 0
	errorCount := 0
	for _, fields := range entries {
		fmt.Printf("Importing: %s by %s... ", fields.Title, fields.Author)
		book, err := state.Catalog.AddBook(fields)
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Printf("SUCCESS (ID: %s)\n", book.ID)
		successCount++
	}

	if err := store.SaveState(state); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving state: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d books\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)
}
