// Command docgate puts a login in front of a documentation site.
//
// Usage:
//
//	docgate serve [-config file] [-addr :8080] [-docs site]
//	docgate tab   [-config file]
//
// serve runs the HTTP front end. tab opens an interactive terminal session
// that shares the session record with every other tab of the same origin.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const usage = `usage: docgate <command> [flags]

commands:
  serve   serve the documentation behind a login
  tab     open an interactive session in the terminal
`

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "tab":
		err = runTab(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "docgate: %v\n", err)
		os.Exit(1)
	}
}
