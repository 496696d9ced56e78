package model

// State is the lifecycle engine's coarse state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Phase is the per-model download lifecycle label surfaced to the UI.
type Phase string

const (
	PhaseQueued      Phase = "queued"
	PhaseDownloading Phase = "downloading"
	PhaseCompiling   Phase = "compiling"
	PhaseReady       Phase = "ready"
	PhaseFailed      Phase = "failed"
	PhaseCanceled    Phase = "canceled"
)

// Event is a lifecycle notification delivered to subscribers.
type Event struct {
	ModelID  string  `json:"model_id"`
	State    State   `json:"state"`
	Phase    Phase   `json:"phase"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

// Snapshot is the engine's externally visible state.
type Snapshot struct {
	State   State  `json:"state"`
	ModelID string `json:"model_id,omitempty"`
	Error   string `json:"error,omitempty"`
	Circuit string `json:"circuit"`
}
