package llm

import (
	"strings"
)

// Normalize turns an optional history plus a raw prompt into a Conversation.
//
// Messages with an unknown role or blank content are dropped. If what
// remains holds no user message, the trimmed prompt is appended as one;
// otherwise the prompt is ignored because the caller already included it.
// Normalize never mutates history.
func Normalize(history []ChatMessage, prompt string) (Conversation, error) {
	conv := make(Conversation, 0, len(history)+1)
	hasUser := false

	for _, msg := range history {
		role := MessageRole(strings.ToLower(strings.TrimSpace(string(msg.Role))))
		content := strings.TrimSpace(msg.Content)
		if !role.Valid() || content == "" {
			continue
		}
		if role == RoleUser {
			hasUser = true
		}
		conv = append(conv, ChatMessage{Role: role, Content: content})
	}

	if hasUser {
		return conv, nil
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, NewValidationError(ErrEmptyPrompt)
	}
	return append(conv, NewTextMessage(RoleUser, prompt)), nil
}

// HasUser reports whether the conversation contains a user message.
func (c Conversation) HasUser() bool {
	for _, msg := range c {
		if msg.Role == RoleUser {
			return true
		}
	}
	return false
}

// SplitSystem separates system messages from the rest, preserving order.
// Vendors that take the system prompt out-of-band use it.
func (c Conversation) SplitSystem() (system string, rest Conversation) {
	var parts []string
	rest = make(Conversation, 0, len(c))
	for _, msg := range c {
		if msg.Role == RoleSystem {
			parts = append(parts, msg.Content)
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(parts, "\n\n"), rest
}
