package main

import (
	"fmt"
	"os"

	"github.com/sandeepkv93/guardian-location-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
