package main

import (
	"log/slog"
	"os"

	"github.com/chewtoys/kentcdodds.com/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application terminated with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
