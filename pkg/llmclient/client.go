// Package llmclient implements the LLM Client Abstraction (§4.C): a
// uniform call to a remote chat-completions provider with
// system/user role separation, token accounting, and retries on
// transport errors. Grounded on the interface shape of the teacher's
// agent.LLMClient (a single call returning a typed result, a closed
// error taxonomy) but transported over HTTP+JSON per §6.2 rather than
// the teacher's gRPC sidecar — see DESIGN.md for why gRPC was dropped.
package llmclient

import (
	"context"
	"time"
)

// Role separates trusted system instructions from untrusted user
// content, mirroring the teacher's agent.RoleSystem/RoleUser constants.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one chat-completions message.
type Message struct {
	Role    Role
	Content string
}

// CompleteRequest is everything a step needs for one LLM call.
type CompleteRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // zero means use the client default (120s per §4.C)
}

// CompleteResponse is the normalized result of a successful call.
type CompleteResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Estimated    bool // true when token counts were heuristically estimated, not provider-reported
}

// Client is the uniform interface the executor calls through. Tests
// substitute a fake implementation; production wires HTTPClient.
type Client interface {
	Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error)
}

// EstimateTokens applies the §4.C word-count heuristic (1 token ≈ 0.75
// words) for providers that don't report usage.
func EstimateTokens(text string) int {
	words := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !isSpace && !inWord {
			words++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	if words == 0 {
		return 0
	}
	return int(float64(words) / 0.75)
}
