// Package main provides the entityversion CLI: fork entities into working
// versions, inspect their audit history and merge them back into live.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the CLI and returns an exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 1
	}

	switch args[1] {
	case "fork":
		return forkCmd(args[2:], stdout, stderr)
	case "merge":
		return mergeCmd(args[2:], stdout, stderr)
	case "history":
		return historyCmd(args[2:], stdout, stderr)
	case "diff":
		return diffCmd(args[2:], stdout, stderr)
	case "write":
		return writeCmd(args[2:], stdout, stderr)
	case "delete":
		return deleteCmd(args[2:], stdout, stderr)
	case "definitions":
		return definitionsCmd(args[2:], stdout, stderr)
	case "serve-metrics":
		return serveMetricsCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		fmt.Fprintln(stderr, "Run 'entityversion help' for usage.")
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: entityversion <command> [flags]

Commands:
  fork           Fork a live entity into a new version
  merge          Merge a version back into live
  history        List the commits recorded against a version
  diff           Compare an entity between live and a version
  write          Insert, update or upsert rows from a JSON file
  delete         Delete an entity, cascading to owned children
  definitions    List registered entity definitions and their fields
  serve-metrics  Serve /metrics, /health and /ready over HTTP

Common flags:
  -config string       YAML config file
  -driver string       Storage driver: sqlite (default), memory, postgres
  -dsn string          Storage DSN (sqlite default: entityversion.db)
  -definitions string  YAML entity definitions
  -user string         Acting username recorded in commits
  -log-level string    Log level: debug, info, warn, error
`)
}
