package store

// Limits applied to recorded node run data.
const (
	MaxRecordedUserMessage = 500
	MaxRecordedOutput      = 5000
	truncatedSuffix        = "... (truncated)"
)

// TruncateUserMessage clips s to MaxRecordedUserMessage characters.
func TruncateUserMessage(s string) string {
	r := []rune(s)
	if len(r) <= MaxRecordedUserMessage {
		return s
	}
	return string(r[:MaxRecordedUserMessage])
}

// TruncateOutput clips s to MaxRecordedOutput characters and marks the cut.
func TruncateOutput(s string) string {
	r := []rune(s)
	if len(r) <= MaxRecordedOutput {
		return s
	}
	return string(r[:MaxRecordedOutput]) + truncatedSuffix
}

// LLMInputs builds the recorded inputs of an LLM node run. Successful runs
// keep only the first MaxRecordedUserMessage characters of the message; an
// empty system prompt is recorded as null.
func LLMInputs(model, systemPrompt, userMessage string, imagesCount int, success bool) map[string]any {
	var system any
	if systemPrompt != "" {
		system = systemPrompt
	}
	if success {
		userMessage = TruncateUserMessage(userMessage)
	}
	return map[string]any{
		"model":        model,
		"systemPrompt": system,
		"userMessage":  userMessage,
		"imagesCount":  imagesCount,
	}
}
