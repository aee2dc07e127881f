package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type TimingEntry struct {
	Name     string    `json:"name"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end,omitempty"`
	Duration string    `json:"duration,omitempty"`
}

type Timing struct {
	mu      sync.Mutex
	Entries []TimingEntry `json:"entries"`
}

func timingPath(stateDir string) string {
	return filepath.Join(stateDir, "timing.json")
}

// LoadTiming reads timing data from the state directory.
func LoadTiming(stateDir string) (*Timing, error) {
	path := timingPath(stateDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Timing{}, nil
		}
		return nil, err
	}
	var t Timing
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Timing) save(stateDir string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(timingPath(stateDir), data, 0644)
}

// AddStart appends a new timing entry for the given phase or step.
func (t *Timing) AddStart(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Entries = append(t.Entries, TimingEntry{
		Name:  name,
		Start: time.Now(),
	})
}

// AddEnd records the end time for the most recent open entry matching name.
func (t *Timing) AddEnd(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Name == name && t.Entries[i].End.IsZero() {
			t.Entries[i].End = time.Now()
			d := t.Entries[i].End.Sub(t.Entries[i].Start)
			t.Entries[i].Duration = FormatDuration(d)
			break
		}
	}
}

// Last returns the duration string of the most recent completed entry for name.
func (t *Timing) Last(name string) string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.Entries) - 1; i >= 0; i-- {
		if t.Entries[i].Name == name && t.Entries[i].Duration != "" {
			return t.Entries[i].Duration
		}
	}
	return ""
}

// Reset drops all entries.
func (t *Timing) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Entries = nil
}

// Flush writes the in-memory timing data to disk.
func (t *Timing) Flush(stateDir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.save(stateDir)
}

// FormatDuration renders d as "Mm SSs".
func FormatDuration(d time.Duration) string {
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %02ds", m, s)
}
