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
			fmt.Fprintln(os.Stderr)
			hrsuitecli.PrintUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatal(err)
	}
}
