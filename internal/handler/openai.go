package handler

import (
	"encoding/json"
	"strings"
)

// ChatMessage content is either a plain string or an array of typed parts;
// both forms appear in the wild, so Content stays raw until flattened.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// flattenContent normalizes a message body to plain text. Non-text parts
// (images, tool payloads) are dropped.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Type != "" && p.Type != "text" {
				continue
			}
			if p.Text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		}
		return b.String()
	}

	return ""
}

// renderConversation turns the full message history into the single prompt a
// fresh Canvas session receives. Roles are kept as plain prefixes so the
// backend model sees who said what.
func renderConversation(messages []ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		text := strings.TrimSpace(flattenContent(m.Content))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		switch m.Role {
		case "system":
			b.WriteString("System: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(text)
	}
	return b.String()
}

func lastUserContent(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(flattenContent(messages[i].Content))
		}
	}
	return ""
}

// userParts collects user-turn texts in order. The conversation fingerprint
// is built from these so a follow-up request with one more user turn maps
// back to the session registered by its predecessor.
func userParts(messages []ChatMessage) []string {
	var parts []string
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		if text := strings.TrimSpace(flattenContent(m.Content)); text != "" {
			parts = append(parts, text)
		}
	}
	return parts
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionChoice struct {
	Index        int               `json:"index"`
	Message      completionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   completionUsage    `json:"usage"`
}

// estimateTokens is the usual chars/4 heuristic; the backend reports no real
// token counts.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
