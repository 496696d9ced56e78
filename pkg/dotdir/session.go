package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	sessionFile = "session.json"
)

// SessionState is the persisted pointer to the conversation and model the
// user last had active, so a new process can resume where the old one left
// off.
type SessionState struct {
	// ConversationID is the id of the active conversation.
	ConversationID string `json:"conversation_id"`

	// ModelID is the model that was loaded, if any.
	ModelID string `json:"model_id,omitempty"`
}

// LoadSessionState loads the session state from a target .recall/session.json.
// Returns nil, nil if no session state exists (fresh start).
// If overrideDir is non-empty, it is used instead of the default ~/.recall/ location.
func (m *Manager) LoadSessionState(overrideDir string) (*SessionState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, sessionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session state: %w", err)
	}

	state := &SessionState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing session state: %w", err)
	}

	return state, nil
}

// SaveSession persists the session state to a target .recall/session.json.
func (m *Manager) SaveSession(state *SessionState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil session state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	path := filepath.Join(dir, sessionFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing session state: %w", err)
	}

	return nil
}

// ClearSession removes the session state file.
// Returns nil if the file doesn't exist (already cleared).
func (m *Manager) ClearSession(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, sessionFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing session state: %w", err)
	}

	return nil
}
