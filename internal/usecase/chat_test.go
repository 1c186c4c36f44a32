package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pipeline-chat/internal/integrations/webhook"
)

type stubSender struct {
	resp    *webhook.Response
	err     error
	calls   int
	payload webhook.Payload
	cfg     webhook.RequestConfig
}

func (s *stubSender) Send(_ context.Context, payload webhook.Payload, cfg webhook.RequestConfig) (*webhook.Response, error) {
	s.calls++
	s.payload = payload
	s.cfg = cfg
	return s.resp, s.err
}

func okResponse(body string) *webhook.Response {
	return &webhook.Response{Status: http.StatusOK, Body: []byte(body), Headers: http.Header{}}
}

type logSink struct {
	buf bytes.Buffer
}

func (l *logSink) records(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(l.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func newTestService(t *testing.T, sender Sender) (*ChatService, *logSink) {
	t.Helper()
	sink := &logSink{}
	logger := slog.New(slog.NewJSONHandler(&sink.buf, nil))
	svc, err := NewChatService(sender, Settings{
		Credentials: webhook.Credentials{AuthorizationKey: "auth-key", Token: "tok"},
	}, logger)
	require.NoError(t, err)
	return svc, sink
}

func expectChatError(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	var chatErr *Error
	require.ErrorAs(t, err, &chatErr)
	require.Equal(t, kind, chatErr.Kind)
	return chatErr
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	_, err := NewChatService(nil, Settings{}, nil)
	require.Error(t, err)

	svc, err := NewChatService(&stubSender{}, Settings{}, nil)
	require.NoError(t, err)
	require.Equal(t, webhook.MessageWins, svc.settings.Policy)
	require.Equal(t, webhook.DefaultTimeout, svc.settings.Timeout)
}

func TestChat_MissingInput(t *testing.T) {
	sender := &stubSender{}
	svc, sink := newTestService(t, sender)

	_, err := svc.Chat(context.Background(), ChatInput{Data: json.RawMessage("null")})
	chatErr := expectChatError(t, err, ErrorBadRequest)
	require.Equal(t, MessageMissingInput, chatErr.Message)
	require.Zero(t, sender.calls)
	require.Len(t, sink.records(t), 1)
}

func TestChat_FalsyDataIsMissingInput(t *testing.T) {
	for _, data := range []string{`false`, `0`, `""`} {
		sender := &stubSender{}
		svc, _ := newTestService(t, sender)

		_, err := svc.Chat(context.Background(), ChatInput{Data: json.RawMessage(data)})
		expectChatError(t, err, ErrorBadRequest)
		require.Zero(t, sender.calls, data)
	}
}

func TestChat_MessageWinsPayload(t *testing.T) {
	sender := &stubSender{resp: okResponse(`{"answers":["hi there"]}`)}
	svc, _ := newTestService(t, sender)

	out, err := svc.Chat(context.Background(), ChatInput{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hi there", out.Message)
	require.Equal(t, "hello", string(sender.payload.Body))
	require.Equal(t, "text/plain", sender.cfg.Headers.Get("Content-Type"))
	require.Equal(t, "auth-key", sender.cfg.Headers.Get("Authorization"))
	require.Equal(t, "tok", sender.cfg.Query.Get("token"))
	require.Equal(t, 5*time.Minute, sender.cfg.Timeout)
}

func TestChat_DataObjectsAnswer(t *testing.T) {
	restore := now
	now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.FixedZone("X", 3600)) }
	defer func() { now = restore }()

	sender := &stubSender{resp: okResponse(`{"data":{"objects":{"o1":{"text":"Answer"}}}}`)}
	svc, sink := newTestService(t, sender)

	out, err := svc.Chat(context.Background(), ChatInput{Message: "question"})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "Answer", out.Message)
	require.Equal(t, "2026-10-18T08:30:00.000Z", out.Timestamp)
	require.Nil(t, out.Metadata)
	require.Empty(t, sink.records(t))
}

func TestChat_ObjectResultIsStringified(t *testing.T) {
	sender := &stubSender{resp: okResponse(`{"data":{"objects":{"o1":{"text":"","score":0.5}}}}`)}
	svc, _ := newTestService(t, sender)

	out, err := svc.Chat(context.Background(), ChatInput{Message: "question"})
	require.NoError(t, err)
	require.Equal(t, `{"text":"","score":0.5}`, out.Message)
}

func TestChat_ProcessingTimeMetadata(t *testing.T) {
	resp := okResponse(`{"answers":["ok"]}`)
	resp.Headers.Set("x-response-time", "1234ms")
	svc, _ := newTestService(t, &stubSender{resp: resp})

	out, err := svc.Chat(context.Background(), ChatInput{Message: "question"})
	require.NoError(t, err)
	require.NotNil(t, out.Metadata)
	require.Equal(t, "1234ms", out.Metadata.ProcessingTime)
}

func TestChat_Timeout(t *testing.T) {
	sender := &stubSender{err: webhook.ErrTimeout}
	svc, sink := newTestService(t, sender)

	_, err := svc.Chat(context.Background(), ChatInput{Message: "slow"})
	chatErr := expectChatError(t, err, ErrorUpstreamTimeout)
	require.Equal(t, "Pipeline processing timeout - request took too long", chatErr.Message)
	require.Len(t, sink.records(t), 1)
}

func TestChat_PipelineErrorStatus(t *testing.T) {
	sender := &stubSender{resp: &webhook.Response{Status: http.StatusBadRequest, Body: []byte(`{"error":"Bad Request"}`), Headers: http.Header{}}}
	svc, sink := newTestService(t, sender)

	_, err := svc.Chat(context.Background(), ChatInput{Message: "question"})
	chatErr := expectChatError(t, err, ErrorPipeline)
	require.Equal(t, http.StatusBadRequest, chatErr.UpstreamStatus)
	require.JSONEq(t, `{"error":"Bad Request"}`, string(chatErr.Details))

	recs := sink.records(t)
	require.Len(t, recs, 1)
	require.Equal(t, "ERROR", recs[0]["level"])
	require.Equal(t, float64(400), recs[0]["status"])
	require.Equal(t, `{"error":"Bad Request"}`, recs[0]["response"])
}

func TestChat_UpstreamFailure(t *testing.T) {
	resp := &webhook.Response{Status: http.StatusServiceUnavailable, Body: []byte("overloaded"), Headers: http.Header{}}
	sender := &stubSender{err: &webhook.StatusError{URL: "http://pipeline", Response: resp}}
	svc, sink := newTestService(t, sender)

	_, err := svc.Chat(context.Background(), ChatInput{Message: "question"})
	chatErr := expectChatError(t, err, ErrorUpstreamFailure)
	require.Equal(t, MessageUpstreamFailure, chatErr.Message)
	require.Equal(t, http.StatusServiceUnavailable, chatErr.UpstreamStatus)
	require.Equal(t, `"overloaded"`, string(chatErr.Details))

	recs := sink.records(t)
	require.Len(t, recs, 1)
	require.Equal(t, float64(503), recs[0]["status"])
}

func TestChat_UnknownTransportError(t *testing.T) {
	sender := &stubSender{err: errors.New("webhook: request failed: connection reset")}
	svc, sink := newTestService(t, sender)

	_, err := svc.Chat(context.Background(), ChatInput{Message: "question"})
	chatErr := expectChatError(t, err, ErrorUnknownTransport)
	require.Contains(t, chatErr.Message, "connection reset")
	require.Zero(t, chatErr.UpstreamStatus)
	require.Len(t, sink.records(t), 1)
}

func TestChat_OversizedBodyIsNotMalformed(t *testing.T) {
	sender := &stubSender{err: fmt.Errorf("%w: limit is 10 bytes", webhook.ErrBodyTooLarge)}
	svc, _ := newTestService(t, sender)

	_, err := svc.Chat(context.Background(), ChatInput{Message: "question"})
	chatErr := expectChatError(t, err, ErrorUnknownTransport)
	require.ErrorIs(t, chatErr, webhook.ErrBodyTooLarge)
}

func TestChat_MalformedUpstreamBody(t *testing.T) {
	svc, sink := newTestService(t, &stubSender{resp: okResponse("<html>oops</html>")})

	_, err := svc.Chat(context.Background(), ChatInput{Message: "question"})
	chatErr := expectChatError(t, err, ErrorMalformedUpstreamBody)
	require.Equal(t, MessageMalformedBody, chatErr.Message)
	require.Len(t, sink.records(t), 1)
}

func TestChat_EchoRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		out, err := json.Marshal(map[string][]string{"answers": {string(body)}})
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	}))
	defer srv.Close()

	client, err := webhook.NewClient(srv.URL)
	require.NoError(t, err)
	svc, _ := newTestService(t, client)

	out, err := svc.Chat(context.Background(), ChatInput{Message: "what is in the handbook?"})
	require.NoError(t, err)
	require.Equal(t, "what is in the handbook?", out.Message)
}

func TestDetailsFromBody(t *testing.T) {
	require.Nil(t, detailsFromBody(nil))
	require.Equal(t, `{"a":1}`, string(detailsFromBody([]byte(`{ "a": 1 }`))))
	require.Equal(t, `"plain text"`, string(detailsFromBody([]byte("plain text"))))
}
