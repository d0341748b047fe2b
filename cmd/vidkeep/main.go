package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}
	// An interrupt mid-command already told the user everything.
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "vidkeep: %v\n", err)
	}
	os.Exit(1)
}
