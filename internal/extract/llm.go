package extract

import "context"

// Provider is the interface for any LLM backend.
type Provider interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Request is a single-turn completion request.
type Request struct {
	MaxTokens int
	System    string
	Prompt    string
}

// Response is the text the model produced plus accounting.
type Response struct {
	Text       string
	StopReason string
	Model      string
	Usage      Usage
}

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
