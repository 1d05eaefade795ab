package checker

import "strings"

// extractText pulls assistant text out of a decoded unary response. Two
// shapes are recognized: a content-block list with typed blocks, and a choice
// list with a nested message. Anything else falls back to the raw body so no
// information is lost.
func extractText(payload map[string]any, raw []byte) string {
	if blocks, ok := payload["content"].([]any); ok {
		var sb strings.Builder
		for _, item := range blocks {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if blockType, _ := block["type"].(string); blockType != "text" {
				continue
			}
			text, _ := block["text"].(string)
			sb.WriteString(text)
		}
		return sb.String()
	}
	if choices, ok := payload["choices"].([]any); ok && len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)
		if message, ok := choice["message"].(map[string]any); ok {
			text, _ := message["content"].(string)
			return text
		}
		if text, ok := choice["text"].(string); ok {
			return text
		}
	}
	return string(raw)
}

// extractStreamText pulls the text delta out of one decoded stream chunk.
// Chunks that carry no text yield the empty string.
func extractStreamText(payload map[string]any) string {
	if payloadType, _ := payload["type"].(string); payloadType == "content_block_delta" {
		delta, _ := payload["delta"].(map[string]any)
		if deltaType, _ := delta["type"].(string); deltaType == "text_delta" {
			text, _ := delta["text"].(string)
			return text
		}
	}
	if choices, ok := payload["choices"].([]any); ok && len(choices) > 0 {
		choice, _ := choices[0].(map[string]any)
		if delta, ok := choice["delta"].(map[string]any); ok {
			text, _ := delta["content"].(string)
			return text
		}
	}
	return ""
}
