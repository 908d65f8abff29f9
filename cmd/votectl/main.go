// Command votectl holds operator tooling: minting development tokens, one-shot
// counter reconciliation and an end-to-end smoke run against a live API.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

const usage = `usage: votectl <command> [flags]

commands:
  token      mint a signed token for an admin or student
  reconcile  recount every election's votes from the Postgres ledger
  smoke      create an election, vote and read results against a running API`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "token":
		err = runToken(os.Args[2:])
	case "reconcile":
		err = runReconcile(os.Args[2:])
	case "smoke":
		err = runSmoke(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		err = fmt.Errorf("unknown command %q\n%s", os.Args[1], usage)
	}
	if err != nil {
		color.Red("✗ %v", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
