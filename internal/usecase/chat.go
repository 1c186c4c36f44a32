package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"pipeline-chat/internal/domain"
	"pipeline-chat/internal/integrations/webhook"
	"pipeline-chat/internal/pipeline"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type Sender interface {
	Send(ctx context.Context, payload webhook.Payload, cfg webhook.RequestConfig) (*webhook.Response, error)
}

// Settings is the static part of every outbound call.
type Settings struct {
	Policy      webhook.PayloadPolicy
	Credentials webhook.Credentials
	Timeout     time.Duration
}

type ChatService struct {
	sender   Sender
	settings Settings
	logger   *slog.Logger
}

type ChatInput struct {
	Message string
	Data    json.RawMessage
}

func NewChatService(sender Sender, settings Settings, logger *slog.Logger) (*ChatService, error) {
	if sender == nil {
		return nil, errors.New("usecase: webhook sender must not be nil")
	}
	if settings.Policy == "" {
		settings.Policy = webhook.DefaultPolicy
	}
	if settings.Timeout <= 0 {
		settings.Timeout = webhook.DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{sender: sender, settings: settings, logger: logger}, nil
}

// Chat relays one message to the pipeline and normalizes its answer.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (domain.ChatResponse, error) {
	if in.Message == "" && !webhook.HasData(in.Data) {
		return domain.ChatResponse{}, s.fail(ctx, BadRequest(MessageMissingInput), nil)
	}

	payload := webhook.BuildPayload(s.settings.Policy, in.Message, in.Data)
	cfg := webhook.BuildConfig(s.settings.Policy, s.settings.Credentials, s.settings.Timeout)

	resp, err := s.sender.Send(ctx, payload, cfg)
	if err != nil {
		return domain.ChatResponse{}, s.fail(ctx, classifyTransportError(err), statusResponse(err))
	}

	if resp.Status != http.StatusOK {
		return domain.ChatResponse{}, s.fail(ctx,
			upstreamError(ErrorPipeline, MessagePipelineError, resp.Status, resp.Body, nil), resp)
	}

	body, err := pipeline.ParseBody(resp.Body)
	if err != nil {
		return domain.ChatResponse{}, s.fail(ctx, newError(ErrorMalformedUpstreamBody, MessageMalformedBody, err), resp)
	}

	out := domain.ChatResponse{
		Success:   true,
		Message:   pipeline.DisplayMessage(pipeline.Extract(body)),
		Timestamp: now().UTC().Format(timestampLayout),
	}
	if pt := resp.Headers.Get("X-Response-Time"); pt != "" {
		out.Metadata = &domain.ChatMetadata{ProcessingTime: pt}
	}
	return out, nil
}

func classifyTransportError(err error) *Error {
	if errors.Is(err, webhook.ErrTimeout) {
		return newError(ErrorUpstreamTimeout, MessageTimeout, err)
	}
	var statusErr *webhook.StatusError
	if errors.As(err, &statusErr) {
		return upstreamError(ErrorUpstreamFailure, MessageUpstreamFailure,
			statusErr.Response.Status, statusErr.Response.Body, err)
	}
	return newError(ErrorUnknownTransport, err.Error(), err)
}

func statusResponse(err error) *webhook.Response {
	var statusErr *webhook.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Response
	}
	return nil
}

// fail writes the single error record for a failed chat and returns e.
func (s *ChatService) fail(ctx context.Context, e *Error, resp *webhook.Response) *Error {
	attrs := []any{"kind", string(e.Kind), "error", e.Error()}
	if resp != nil {
		attrs = append(attrs, "response", string(resp.Body), "status", resp.Status)
	}
	s.logger.ErrorContext(ctx, "chat endpoint error", attrs...)
	return e
}

var now = time.Now
