package main

import (
	"context"
	"log/slog"
	"os"

	"graderade/cmd/grader-cli/commands"
	"graderade/lib/telemetry"
)

func main() {
	telemetry.InitSlog(false)

	ctx := context.Background()
	tel, err := telemetry.SetupFromEnv(ctx, "grader-cli")
	if err == nil {
		defer tel.Shutdown(ctx)
	} else if !os.IsNotExist(err) {
		slog.Warn("failed to set up telemetry", "err", err)
	}

	commands.ExecuteContext(ctx)
}
