package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"pipeline-chat/internal/pipeline"
)

type ErrorKind string

const (
	ErrorBadRequest            ErrorKind = "BAD_REQUEST"
	ErrorUpstreamTimeout       ErrorKind = "UPSTREAM_TIMEOUT"
	ErrorUpstreamFailure       ErrorKind = "UPSTREAM_FAILURE"
	ErrorPipeline              ErrorKind = "PIPELINE_ERROR"
	ErrorMalformedUpstreamBody ErrorKind = "MALFORMED_UPSTREAM_BODY"
	ErrorUnknownTransport      ErrorKind = "UNKNOWN_TRANSPORT_ERROR"
	ErrorRateLimited           ErrorKind = "RATE_LIMITED"
	ErrorInternal              ErrorKind = "INTERNAL_ERROR"
)

const (
	MessageMissingInput    = "Either message or data is required"
	MessageInvalidBody     = "Invalid request body format"
	MessageTimeout         = "Pipeline processing timeout - request took too long"
	MessageUpstreamFailure = "Pipeline processing failed"
	MessagePipelineError   = "Pipeline returned an error"
	MessageMalformedBody   = "Invalid response format from webhook"
	MessageRateLimited     = "Too many requests, please try again later."
	MessageInternal        = "An error occurred processing your request"
)

// Error is the chat failure taxonomy. UpstreamStatus and Details are only set
// for the kinds that carry an upstream answer (UPSTREAM_FAILURE,
// PIPELINE_ERROR).
type Error struct {
	Kind           ErrorKind
	Message        string
	UpstreamStatus int
	Details        json.RawMessage
	Err            error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Kind, e.Message)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func BadRequest(message string) *Error {
	return newError(ErrorBadRequest, message, nil)
}

func RateLimited() *Error {
	return newError(ErrorRateLimited, MessageRateLimited, nil)
}

func upstreamError(kind ErrorKind, message string, status int, body []byte, err error) *Error {
	return &Error{
		Kind:           kind,
		Message:        message,
		UpstreamStatus: status,
		Details:        detailsFromBody(body),
		Err:            err,
	}
}

// detailsFromBody keeps JSON bodies as JSON and wraps anything else as a
// JSON string.
func detailsFromBody(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if gjson.ValidBytes(body) {
		return json.RawMessage(pipeline.Compact(string(body)))
	}
	encoded, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return encoded
}
