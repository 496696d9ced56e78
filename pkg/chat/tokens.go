package chat

// EstimateTokens approximates the token count of a string using the
// 1 token ≈ 4 chars heuristic. Good enough for budgeting; the real
// tokenizer lives inside the inference provider.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// EstimateMessageTokens sums the estimated tokens of the given messages.
func EstimateMessageTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}
