package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"pipeline-chat/internal/app"
	"pipeline-chat/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	// ---- Handler ----
	// Lambda instances do not share memory, so rate limiting only runs
	// with a DynamoDB table.
	h, cfg, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}
	logger.Info("chat handler ready", "env", cfg.Env, "policy", string(cfg.Webhook.Policy))

	lambda.Start(h.Invoke)
}
