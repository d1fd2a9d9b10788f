package prompts

const DefaultSystem = "You are a helpful voice assistant. Keep responses concise and conversational."

// ForSession resolves the system prompt for a session's Dialogue: the
// device's configured llm_system_prompt if set, else DefaultSystem.
func ForSession(systemPrompt string) string {
	if systemPrompt != "" {
		return systemPrompt
	}
	return DefaultSystem
}
