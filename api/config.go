// Package api provides the HTTP API server for conversations, memory facts,
// and model lifecycle control.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8082")
	ListenAddr string

	// ContextWindow is the model context window used for memory selection
	// and compaction budgets.
	ContextWindow int
}
