package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"pipeline-chat/internal/domain"
	"pipeline-chat/internal/integrations/webhook"
	"pipeline-chat/internal/ratelimit"
	"pipeline-chat/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (domain.ChatResponse, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Options tune the HTTP surface around the chat use case.
type Options struct {
	// AllowedOrigin is sent as Access-Control-Allow-Origin. Defaults to "*".
	AllowedOrigin string
	// Development adds the error chain to error bodies as "stack" and
	// stops masking unexpected errors.
	Development bool
	// RedactDetails drops upstream bodies from error responses.
	RedactDetails bool
	// Limiter is optional; nil disables rate limiting.
	Limiter RateLimiter
	Logger  *slog.Logger
}

type Handler struct {
	uc   ChatUseCase
	opts Options
	log  *slog.Logger
}

type chatRequest struct {
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data"`
	Fingerprint json.RawMessage `json:"fingerprint"`
}

// invocation accepts both API Gateway proxy events and direct invocations
// carrying message/data at the top level.
type invocation struct {
	events.APIGatewayProxyRequest
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func NewHandler(uc ChatUseCase, opts Options) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if strings.TrimSpace(opts.AllowedOrigin) == "" {
		opts.AllowedOrigin = "*"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{uc: uc, opts: opts, log: logger}, nil
}

// Invoke is the Lambda entrypoint.
func (h *Handler) Invoke(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	var inv invocation
	if err := json.Unmarshal(raw, &inv); err != nil {
		h.log.ErrorContext(ctx, "failed to decode invocation", "err", err)
		return h.errorResponse(ctx, uuid.NewString(), usecase.BadRequest(usecase.MessageInvalidBody)), nil
	}
	if inv.HTTPMethod == "" && inv.Body == "" {
		return h.chat(ctx, uuid.NewString(), chatRequest{Message: inv.Message, Data: inv.Data}, ""), nil
	}
	return h.Handle(ctx, inv.APIGatewayProxyRequest)
}

// Handle serves POST /api/chat from an API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(event.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}

	switch event.HTTPMethod {
	case http.MethodOptions:
		return h.respond(http.StatusOK, corrID, "", nil), nil
	case http.MethodPost, "":
	default:
		return h.jsonResponse(http.StatusMethodNotAllowed, corrID, domain.ErrorResponse{Error: true, Message: "Method not allowed"}, nil), nil
	}

	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return h.errorResponse(ctx, corrID, usecase.BadRequest(usecase.MessageInvalidBody)), nil
		}
		body = string(decoded)
	}

	var req chatRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		h.log.ErrorContext(ctx, "failed to parse request body", "correlationId", corrID, "err", err)
		return h.errorResponse(ctx, corrID, usecase.BadRequest(usecase.MessageInvalidBody)), nil
	}

	return h.chat(ctx, corrID, req, event.RequestContext.Identity.SourceIP), nil
}

func (h *Handler) chat(ctx context.Context, corrID string, req chatRequest, sourceIP string) events.APIGatewayProxyResponse {
	fp := decodeFingerprint(req.Fingerprint)
	if fp != nil {
		h.logFingerprint(ctx, corrID, fp)
	}

	var limitHeaders map[string]string
	if h.opts.Limiter != nil {
		fpID := ""
		if fp != nil {
			fpID = fp.ID
		}
		decision, err := h.opts.Limiter.Allow(ctx, ratelimit.Key(fpID, sourceIP))
		if err != nil {
			h.log.WarnContext(ctx, "rate limiter unavailable", "correlationId", corrID, "err", err)
		}
		limitHeaders = rateLimitHeaders(decision)
		if !decision.Allowed {
			resp := h.errorResponse(ctx, corrID, usecase.RateLimited())
			for k, v := range limitHeaders {
				resp.Headers[k] = v
			}
			return resp
		}
	}

	h.log.InfoContext(ctx, "processing chat request",
		"correlationId", corrID,
		"hasMessage", req.Message != "",
		"hasData", webhook.HasData(req.Data),
		"hasFingerprint", fp != nil,
	)

	out, err := h.uc.Chat(ctx, usecase.ChatInput{Message: req.Message, Data: req.Data})
	if err != nil {
		resp := h.errorResponse(ctx, corrID, err)
		for k, v := range limitHeaders {
			resp.Headers[k] = v
		}
		return resp
	}
	return h.jsonResponse(http.StatusOK, corrID, out, limitHeaders)
}

func (h *Handler) errorResponse(ctx context.Context, corrID string, err error) events.APIGatewayProxyResponse {
	var chatErr *usecase.Error
	if !errors.As(err, &chatErr) {
		h.log.ErrorContext(ctx, "unhandled error", "correlationId", corrID, "err", err)
		chatErr = &usecase.Error{Kind: usecase.ErrorInternal, Message: err.Error(), Err: err}
	}

	body := domain.ErrorResponse{Error: true, Message: chatErr.Message}
	switch chatErr.Kind {
	case usecase.ErrorUnknownTransport, usecase.ErrorInternal:
		if !h.opts.Development {
			body.Message = usecase.MessageInternal
		}
	}
	if len(chatErr.Details) > 0 && !h.opts.RedactDetails {
		body.Details = chatErr.Details
	}
	if h.opts.Development && chatErr.Err != nil {
		body.Stack = chatErr.Error()
	}
	return h.jsonResponse(statusFor(chatErr), corrID, body, nil)
}

// statusFor is the only place error kinds become HTTP statuses.
func statusFor(e *usecase.Error) int {
	switch e.Kind {
	case usecase.ErrorBadRequest:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstreamTimeout:
		return http.StatusGatewayTimeout
	case usecase.ErrorUpstreamFailure, usecase.ErrorPipeline:
		if e.UpstreamStatus >= 200 && e.UpstreamStatus <= 599 {
			return e.UpstreamStatus
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) jsonResponse(status int, corrID string, v any, extra map[string]string) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(`{"error":true,"message":"` + usecase.MessageInternal + `"}`)
		status = http.StatusInternalServerError
	}
	return h.respond(status, corrID, string(b), extra)
}

func (h *Handler) respond(status int, corrID, body string, extra map[string]string) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  h.opts.AllowedOrigin,
		"Access-Control-Allow-Methods": "POST, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization",
		correlationHeader:              corrID,
	}
	if h.opts.AllowedOrigin != "*" {
		headers["Access-Control-Allow-Credentials"] = "true"
		headers["Vary"] = "Origin"
	}
	for k, v := range extra {
		headers[k] = v
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: body}
}

func rateLimitHeaders(d ratelimit.Decision) map[string]string {
	if d.Limit == 0 {
		return nil
	}
	return map[string]string{
		"RateLimit-Limit":     strconv.Itoa(d.Limit),
		"RateLimit-Remaining": strconv.Itoa(d.Remaining),
		"RateLimit-Reset":     strconv.FormatInt(d.Reset.Unix(), 10),
	}
}

// decodeFingerprint reads each field on its own so a badly typed attribute
// does not cost the ID.
func decodeFingerprint(raw json.RawMessage) *domain.Fingerprint {
	if !webhook.HasData(raw) {
		return nil
	}
	fields := gjson.ParseBytes(raw)
	if !fields.IsObject() {
		return nil
	}
	return &domain.Fingerprint{
		ID:               fields.Get("fingerprint").String(),
		Browser:          fields.Get("browser").String(),
		BrowserVersion:   fields.Get("browserVersion").String(),
		OS:               fields.Get("os").String(),
		OSVersion:        fields.Get("osVersion").String(),
		Device:           fields.Get("device").String(),
		DeviceType:       fields.Get("deviceType").String(),
		DeviceVendor:     fields.Get("deviceVendor").String(),
		CPU:              fields.Get("cpu").String(),
		ScreenResolution: fields.Get("screenResolution").String(),
		ColorDepth:       int(fields.Get("colorDepth").Int()),
		Timezone:         fields.Get("timezone").String(),
		Language:         fields.Get("language").String(),
		UserAgent:        fields.Get("userAgent").String(),
	}
}

func (h *Handler) logFingerprint(ctx context.Context, corrID string, fp *domain.Fingerprint) {
	h.log.InfoContext(ctx, "user fingerprint data received",
		"correlationId", corrID,
		"fingerprint", fp.ID,
		"browser", fp.Browser,
		"browserVersion", fp.BrowserVersion,
		"os", fp.OS,
		"osVersion", fp.OSVersion,
		"device", fp.Device,
		"deviceType", fp.DeviceType,
		"deviceVendor", fp.DeviceVendor,
		"cpu", fp.CPU,
		"screenResolution", fp.ScreenResolution,
		"colorDepth", fp.ColorDepth,
		"timezone", fp.Timezone,
		"language", fp.Language,
		"userAgent", fp.UserAgent,
	)
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
