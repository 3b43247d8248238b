package main

import (
	"log/slog"
	"os"

	"go-storefront/internal/app"
	"go-storefront/internal/logger"
)

func main() {
	// Until config is loaded, log with the pretty handler at info level.
	slog.SetDefault(logger.New(os.Stdout, "pretty", "info"))

	application, err := app.New()
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}
