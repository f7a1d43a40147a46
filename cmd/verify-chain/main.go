package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/probematter/emergence-loop/internal/framelog"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to emergence.db")
	from := flag.Int64("from", 1, "first sequence number to verify")
	to := flag.Int64("to", 0, "last sequence number to verify (0 = tail)")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: verify-chain --db path/to/emergence.db [--from N] [--to N]")
		os.Exit(2)
	}

	store, err := framelog.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(2)
	}
	defer store.Close()

	count, err := store.Count()
	if err != nil {
		fmt.Fprintf(os.Stderr, "count frames: %v\n", err)
		os.Exit(2)
	}
	if count == 0 {
		fmt.Println("empty log, nothing to verify")
		return
	}

	end := *to
	if end == 0 || end > count {
		end = count
	}

	if err := store.VerifyIntegrity(*from, end); err != nil {
		var integrity *framelog.IntegrityError
		if errors.As(err, &integrity) {
			fmt.Fprintf(os.Stderr, "FAIL: %v\n", integrity)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "verify: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("OK: %d frames verified (seq %d..%d)\n", end-*from+1, *from, end)
}

// #endregion main
