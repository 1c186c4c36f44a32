// Package app wires configuration, AWS clients and the chat handler for the
// Lambda and dev server entrypoints.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"pipeline-chat/handler"
	"pipeline-chat/internal/config"
	"pipeline-chat/internal/integrations/paramstore"
	"pipeline-chat/internal/integrations/webhook"
	"pipeline-chat/internal/ratelimit"
	"pipeline-chat/internal/repository"
	"pipeline-chat/internal/usecase"
)

func NewLogger(w io.Writer, cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel}))
}

// Build resolves secrets, validates cfg and returns the chat handler.
// localCounter backs the rate limiter when no DynamoDB table is configured;
// nil disables rate limiting in that case.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, localCounter ratelimit.Counter) (*handler.Handler, config.Config, error) {
	needAWS := cfg.Webhook.ParamPrefix != "" || cfg.RateLimit.Table != ""

	var awsCfg awsAPIs
	if needAWS {
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, cfg, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = awsAPIs{ssm: awsssm.NewFromConfig(c), dynamo: awsdynamodb.NewFromConfig(c)}
	}

	if cfg.Webhook.ParamPrefix != "" {
		params, err := paramstore.New(awsCfg.ssm)
		if err != nil {
			return nil, cfg, fmt.Errorf("app: create SSM client: %w", err)
		}
		if cfg, err = config.ResolveSecrets(ctx, params, cfg); err != nil {
			return nil, cfg, err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, cfg, err
	}

	hook, err := webhook.NewClient(cfg.Webhook.BaseURL)
	if err != nil {
		return nil, cfg, err
	}
	chat, err := usecase.NewChatService(hook, usecase.Settings{
		Policy:      cfg.Webhook.Policy,
		Credentials: cfg.Webhook.Credentials,
		Timeout:     cfg.Webhook.Timeout,
	}, logger)
	if err != nil {
		return nil, cfg, err
	}

	var counter ratelimit.Counter
	if cfg.RateLimit.Table != "" {
		counter, err = repository.New(awsCfg.dynamo, cfg.RateLimit.Table)
		if err != nil {
			return nil, cfg, fmt.Errorf("app: create rate limit store: %w", err)
		}
	} else if localCounter != nil {
		counter = localCounter
	}

	opts := handler.Options{
		AllowedOrigin: cfg.FrontendURL,
		Development:   cfg.IsDevelopment(),
		RedactDetails: cfg.RedactUpstreamDetails,
		Logger:        logger,
	}
	if counter != nil {
		limiter, err := ratelimit.New(counter, cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
		if err != nil {
			return nil, cfg, err
		}
		opts.Limiter = limiter
	}

	h, err := handler.NewHandler(chat, opts)
	return h, cfg, err
}

type awsAPIs struct {
	ssm    *awsssm.Client
	dynamo *awsdynamodb.Client
}
