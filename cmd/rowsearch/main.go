// Command rowsearch indexes the rows of a CSV file and searches them.
//
// Usage:
//
//	rowsearch -i FILE.csv
//	rowsearch -s 'term "quoted phrase" field:term'
//	rowsearch serve [--port 8080]
package main

import (
	"context"
	"os"

	"github.com/Adithya-Monish-Kumar-K/rowsearch/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
