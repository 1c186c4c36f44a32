// Package pipeline reduces webhook pipeline response bodies to the single
// display string shown in the chat UI.
package pipeline

import (
	"bytes"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// ErrMalformedBody is returned when the upstream body cannot be read as JSON.
var ErrMalformedBody = errors.New("pipeline: invalid response format")

// ParseBody parses a raw upstream body. A body that is itself a JSON string is
// decoded a second time, since the pipeline sometimes double-encodes its
// output.
func ParseBody(raw []byte) (gjson.Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !gjson.ValidBytes(trimmed) {
		return gjson.Result{}, ErrMalformedBody
	}
	body := gjson.ParseBytes(trimmed)
	if body.Type != gjson.String {
		return body, nil
	}

	inner := strings.TrimSpace(body.Str)
	if inner == "" || !gjson.Valid(inner) {
		return gjson.Result{}, ErrMalformedBody
	}
	return gjson.Parse(inner), nil
}

// Extract picks the pipeline output out of a parsed body:
//  1. the first element of a non-empty "answers" array;
//  2. the first entry of a non-empty "data.objects", in document order: its
//     "text" when truthy, otherwise the entry itself;
//  3. the body unchanged.
func Extract(body gjson.Result) gjson.Result {
	if answers := body.Get("answers"); answers.IsArray() {
		if items := answers.Array(); len(items) > 0 {
			return items[0]
		}
	}

	objects := body.Get("data").Get("objects")
	if !objects.IsObject() && !objects.IsArray() {
		return body
	}

	var first gjson.Result
	found := false
	// ForEach walks keys in the order they appear in the upstream bytes.
	objects.ForEach(func(_, value gjson.Result) bool {
		first = value
		found = true
		return false
	})
	if !found {
		return body
	}
	if text := first.Get("text"); first.IsObject() && Truthy(text) {
		return text
	}
	return first
}

// DisplayMessage collapses an extracted result into the chat message string.
func DisplayMessage(result gjson.Result) string {
	if result.Type == gjson.String {
		return result.Str
	}
	if result.IsObject() {
		if answers := result.Get("answers"); answers.IsArray() {
			items := answers.Array()
			if len(items) == 0 {
				return ""
			}
			return DisplayMessage(items[0])
		}
	}
	if result.Raw == "" {
		return ""
	}
	return Compact(result.Raw)
}

// Compact strips insignificant whitespace from a JSON document.
func Compact(raw string) string {
	return string(pretty.Ugly([]byte(raw)))
}

// Truthy reports whether v is a value other than null, false, 0 or "".
func Truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	default:
		return v.Exists()
	}
}
