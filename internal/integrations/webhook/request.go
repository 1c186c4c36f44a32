package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"pipeline-chat/internal/pipeline"
)

// DefaultTimeout bounds one pipeline call. Retrieval-heavy pipelines
// routinely take minutes.
const DefaultTimeout = 5 * time.Minute

// PayloadPolicy selects how (message, data) become the outbound body and which
// credentials accompany it. It is the only place precedence is decided.
type PayloadPolicy string

const (
	// MessageWins sends the raw message as text/plain, falling back to the
	// JSON-encoded data. Authorization carries the authorization key and the
	// token travels as the "token" query parameter.
	MessageWins PayloadPolicy = "message"
	// DataWins sends data as application/json, falling back to
	// {"text": message}. The API key is used for both Authorization and the
	// "apikey" query parameter.
	DataWins PayloadPolicy = "data"
)

// DefaultPolicy is the policy used when none is configured.
const DefaultPolicy = MessageWins

func ParsePolicy(s string) (PayloadPolicy, error) {
	switch PayloadPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultPolicy, nil
	case MessageWins:
		return MessageWins, nil
	case DataWins:
		return DataWins, nil
	default:
		return "", fmt.Errorf("webhook: unknown payload policy %q", s)
	}
}

// Credentials are the static secrets presented to the pipeline.
type Credentials struct {
	AuthorizationKey string
	Token            string
	APIKey           string
}

// Payload is the exact body sent upstream.
type Payload struct {
	Body        []byte
	ContentType string
}

// RequestConfig is the transport configuration for the single upstream call.
type RequestConfig struct {
	Headers        http.Header
	Query          url.Values
	Timeout        time.Duration
	ValidateStatus func(status int) bool
}

type textPayload struct {
	Text string `json:"text"`
}

// BuildPayload never fails. Message counts as present when non-empty, data
// when HasData reports it.
func BuildPayload(policy PayloadPolicy, message string, data json.RawMessage) Payload {
	if policy == DataWins {
		if HasData(data) {
			return Payload{Body: compact(data), ContentType: "application/json"}
		}
		body, _ := json.Marshal(textPayload{Text: message})
		return Payload{Body: body, ContentType: "application/json"}
	}

	if message != "" {
		return Payload{Body: []byte(message), ContentType: "text/plain"}
	}
	if !HasData(data) {
		return Payload{Body: []byte("null"), ContentType: "text/plain"}
	}
	return Payload{Body: compact(data), ContentType: "text/plain"}
}

// BuildConfig never fails; empty credentials are sent as-is and surface as
// upstream auth failures.
func BuildConfig(policy PayloadPolicy, creds Credentials, timeout time.Duration) RequestConfig {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	headers := http.Header{}
	query := url.Values{}

	switch policy {
	case DataWins:
		headers.Set("Content-Type", "application/json")
		headers.Set("Authorization", creds.APIKey)
		query.Set("apikey", creds.APIKey)
	default:
		headers.Set("Content-Type", "text/plain")
		headers.Set("Authorization", creds.AuthorizationKey)
		query.Set("token", creds.Token)
	}

	return RequestConfig{
		Headers:        headers,
		Query:          query,
		Timeout:        timeout,
		ValidateStatus: AcceptBelow500,
	}
}

// AcceptBelow500 treats every status under 500 as a regular response.
func AcceptBelow500(status int) bool {
	return status < http.StatusInternalServerError
}

// HasData reports whether data carries a value. null, false, 0 and "" do
// not; empty objects and arrays do.
func HasData(data json.RawMessage) bool {
	return pipeline.Truthy(gjson.ParseBytes(bytes.TrimSpace(data)))
}

func compact(data json.RawMessage) []byte {
	return pretty.Ugly(bytes.TrimSpace(data))
}
