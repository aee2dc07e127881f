package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Cycle phases, in execution order.
const (
	PhaseRender = "render"
	PhaseCheck  = "check"
	PhaseSync   = "sync"
	PhaseDone   = "done"
)

// State records the progress of the most recent render/check/sync cycle.
type State struct {
	RunID      string    `json:"run_id"`
	Context    string    `json:"context"`
	Key        string    `json:"key"`
	Instance   string    `json:"instance"`
	Mode       string    `json:"mode"`
	Phase      string    `json:"phase"`
	Status     string    `json:"status"` // running, completed, failed, interrupted
	Passed     bool      `json:"passed"`
	Edits      int       `json:"edits"`
	Changes    int       `json:"changes"`
	Exempt     int       `json:"exempt"`
	Unsyncable int       `json:"unsyncable"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func statePath(stateDir string) string {
	return filepath.Join(stateDir, "state.json")
}

// Load reads the state from the state directory. Returns a new state if not found.
func Load(stateDir string) (*State, error) {
	path := statePath(stateDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &State{Status: StatusRunning, Phase: PhaseRender}, nil
		}
		return nil, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save writes the state to the state directory.
func (s *State) Save(stateDir string) error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(statePath(stateDir), data, 0644)
}

// SetPhase moves the cycle to the named phase.
func (s *State) SetPhase(phase string) {
	s.Phase = phase
}
