package ux

import (
	"fmt"
	"strings"
	"time"

	"github.com/jorge-barreto/stencil/internal/conformance"
	"github.com/jorge-barreto/stencil/internal/reverse"
)

// ANSI color helpers
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Dim    = "\033[2m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// PhaseHeader prints a timestamped header for a cycle phase.
func PhaseHeader(index, total int, name, detail string) {
	fmt.Printf("\n%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
	if detail != "" {
		detail = ": " + detail
	}
	fmt.Printf("%s[%s]%s  %s%d/%d %s%s%s\n",
		Dim, timestamp(), Reset, Bold, index+1, total, name, detail, Reset)
	fmt.Printf("%s[%s]%s %s══════════════════════════════════════%s\n",
		Dim, timestamp(), Reset, Cyan, Reset)
}

// PhaseComplete prints a phase completion message.
func PhaseComplete(name string, duration time.Duration) {
	m := int(duration.Minutes())
	s := int(duration.Seconds()) % 60
	fmt.Printf("%s[%s]%s  %s✓ %s complete (%dm %02ds)%s\n",
		Dim, timestamp(), Reset, Green, name, m, s, Reset)
}

// PhaseFail prints a phase failure message.
func PhaseFail(name, errMsg string) {
	fmt.Printf("%s[%s]%s  %s✗ %s failed: %s%s\n",
		Dim, timestamp(), Reset, Red, name, errMsg, Reset)
}

// Info prints an indented progress line.
func Info(format string, args ...any) {
	fmt.Printf("  "+format+"\n", args...)
}

// Steps prints one line per pipeline step.
func Steps(steps []conformance.StepResult) {
	for i, s := range steps {
		switch {
		case s.Skipped:
			fmt.Printf("  %s– %d %s skipped (when not met)%s\n", Dim, i+1, s.Name, Reset)
		case s.TimedOut:
			fmt.Printf("  %s✗ %d %s timed out%s\n", Red, i+1, s.Name, Reset)
		case s.ExitCode != 0 && s.AllowFailure:
			fmt.Printf("  %s! %d %s exited %d (allowed)%s\n", Yellow, i+1, s.Name, s.ExitCode, Reset)
		case s.ExitCode != 0:
			fmt.Printf("  %s✗ %d %s exited %d%s  %slog: %s%s\n", Red, i+1, s.Name, s.ExitCode, Reset, Dim, s.LogPath, Reset)
		default:
			fmt.Printf("  %s✓ %d %s%s %s(%s)%s\n", Green, i+1, s.Name, Reset, Dim, s.Duration.Round(time.Millisecond), Reset)
		}
	}
}

// SyncResult prints the planned or applied template changes.
func SyncResult(res *reverse.Result, applied bool) {
	verb := "would update"
	if applied {
		verb = "updated"
	}
	for _, c := range res.Changes {
		op := verb
		if c.Op == reverse.OpDelete {
			op = strings.Replace(verb, "update", "delete", 1)
		} else if c.Old == nil {
			op = strings.Replace(verb, "update", "create", 1)
		}
		fmt.Printf("  %s%s%s %s\n", Green, op, Reset, c.Path)
	}
	for _, p := range res.Exempt {
		fmt.Printf("  %sexempt%s  %s\n", Dim, Reset, p)
	}
	for _, u := range res.Unsyncable {
		fmt.Printf("  %sunsyncable%s %s\n", Yellow, Reset, u.Error())
	}
	if res.Empty() {
		fmt.Printf("  %sno changes to sync%s\n", Dim, Reset)
	}
}

// Diff prints a unified diff with added and removed lines coloured.
func Diff(diff string) {
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case line == "":
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Print(Bold + line + Reset)
		case strings.HasPrefix(line, "+"):
			fmt.Print(Green + line + Reset)
		case strings.HasPrefix(line, "-"):
			fmt.Print(Red + line + Reset)
		case strings.HasPrefix(line, "@@"):
			fmt.Print(Cyan + line + Reset)
		default:
			fmt.Print(line)
		}
	}
}

// RerunHint prints the command that repeats the cycle.
func RerunHint(mode, context string) {
	fmt.Printf("\n%sRerun:%s stencil %s --context %s\n", Yellow, Reset, mode, context)
}

// Success prints a final success message.
func Success(msg string) {
	fmt.Printf("\n%s[%s]%s  %s%s══ %s ══%s\n\n",
		Dim, timestamp(), Reset, Bold, Green, msg, Reset)
}
