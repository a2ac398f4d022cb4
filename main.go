// Command hrsuite runs the HR API, the admin web client and the terminal
// tools. It is the same binary as cmd/hrsuite, kept at the root so
// `go run .` works from a checkout.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/phillip-england/hrsuite/internal/hrsuitecli"
)

func main() {
	if err := hrsuitecli.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, hrsuitecli.ErrUsage) {
			fmt.Fprintln(os.Stderr, err)
			hrsuitecli.PrintUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
