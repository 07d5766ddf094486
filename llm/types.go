package llm

import (
	"strings"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is one of user, assistant or system.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// ChatMessage is a single turn supplied by the caller.
type ChatMessage struct {
	Role    MessageRole `json:"role" yaml:"role"`
	Content string      `json:"content" yaml:"content"`
}

// Conversation is a normalized, ordered message sequence. It always contains
// at least one user message and is transmitted to the vendor in this order.
type Conversation []ChatMessage

// NewTextMessage creates a message with the given role and text.
func NewTextMessage(role MessageRole, text string) ChatMessage {
	return ChatMessage{Role: role, Content: text}
}

// Provider describes one configured vendor endpoint.
type Provider struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         ProviderType `json:"provider_type"`
	BaseURL      string       `json:"base_url,omitempty"`
	Model        string       `json:"model"`
	IsActive     bool         `json:"is_active"`
	DisplayOrder int          `json:"display_order"`
	CreatedAt    int64        `json:"created_at"`
	UpdatedAt    int64        `json:"updated_at"`
}

// ResolvedBaseURL returns the configured base URL or the family default,
// trimmed of surrounding whitespace and trailing slashes. An empty result
// means the provider cannot be dispatched.
func (p Provider) ResolvedBaseURL() string {
	base := strings.TrimSpace(p.BaseURL)
	if base == "" {
		base = p.Type.DefaultBaseURL()
	}
	return strings.TrimRight(base, "/")
}

// ResolvedModel returns the configured model or the family default.
func (p Provider) ResolvedModel() string {
	if m := strings.TrimSpace(p.Model); m != "" {
		return m
	}
	return p.Type.DefaultModel()
}

// DisplayName returns the provider name, falling back to its type.
func (p Provider) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Type.String()
}

// ProviderView is a Provider annotated with whether a secret is stored,
// without exposing the secret itself.
type ProviderView struct {
	Provider
	HasAPIKey bool `json:"has_api_key"`
}

// ConnectionTestResult is the outcome of a connection probe. StatusCode is
// nil when no HTTP response was received.
type ConnectionTestResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	StatusCode *int   `json:"status_code,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
}

// NewConnectionTestResult builds a result. A non-positive status is
// recorded as absent.
func NewConnectionTestResult(success bool, message string, status int, latencyMS int64) ConnectionTestResult {
	res := ConnectionTestResult{
		Success:   success,
		Message:   message,
		LatencyMS: latencyMS,
	}
	if status > 0 {
		code := status
		res.StatusCode = &code
	}
	return res
}

// StreamDelta is one emitted text fragment. Index is its position within the
// stream; Fallback marks the single delta produced by a non-streaming retry.
type StreamDelta struct {
	Text     string `json:"text"`
	Index    int    `json:"index"`
	Fallback bool   `json:"fallback,omitempty"`
}
