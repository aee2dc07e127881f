package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates the state directory structure.
func EnsureDir(stateDir string) error {
	dirs := []string{
		stateDir,
		filepath.Join(stateDir, "logs"),
		filepath.Join(stateDir, "reports"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("creating state dir %s: %w", d, err)
		}
	}
	return nil
}

// WriteReport writes a named cycle report (diffs, unsyncable spans) to the reports directory.
func WriteReport(stateDir, name, content string) error {
	path := ReportPath(stateDir, name)
	return WriteFileAtomic(path, []byte(content), 0644)
}

// ReadReport returns the content of a named report, or "" when absent.
func ReadReport(stateDir, name string) string {
	data, err := os.ReadFile(ReportPath(stateDir, name))
	if err != nil {
		return ""
	}
	return string(data)
}

// ReportPath returns the path for a named report.
func ReportPath(stateDir, name string) string {
	return filepath.Join(stateDir, "reports", name)
}

// LogPath returns the path for a pipeline step log file.
func LogPath(stateDir string, idx int) string {
	return filepath.Join(stateDir, "logs", fmt.Sprintf("step-%d.log", idx+1))
}
