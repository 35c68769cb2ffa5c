package text

// ComposeZeroShotText concatenates the reference transcript and the text to
// be synthesized with no separator, matching the zero-shot prompt
// construction used when a reference voice carries its own spoken prompt
// text alongside the target utterance.
func ComposeZeroShotText(promptText, userText string) string {
	return promptText + userText
}
