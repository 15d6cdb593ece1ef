package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"simhost/server/internal/app"
	"simhost/server/internal/config"
)

func main() {
	err := app.Run(context.Background(), app.Config{Args: os.Args[1:]})
	if err != nil && !errors.Is(err, config.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(app.ExitCode(err))
}
