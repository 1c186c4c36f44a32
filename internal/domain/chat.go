package domain

// ChatResponse is the success envelope returned to the chat UI.
type ChatResponse struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Timestamp string        `json:"timestamp"`
	Metadata  *ChatMetadata `json:"metadata,omitempty"`
}

type ChatMetadata struct {
	ProcessingTime string `json:"processingTime,omitempty"`
}

// ErrorResponse is the body of every 4xx/5xx answer.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Stack   string `json:"stack,omitempty"`
	Path    string `json:"path,omitempty"`
}
