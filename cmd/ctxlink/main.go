package main

import (
	"log/slog"
	"os"

	"ctxlink/internal/errors"
	"ctxlink/internal/slogutil"
)

func main() {
	logger := slogutil.NewLogger(os.Stderr, slog.LevelInfo)

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed",
			"code", string(errors.CodeOf(err)),
			"error", err.Error(),
		)
		os.Exit(1)
	}
}
