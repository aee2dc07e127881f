package ux

import (
	"fmt"
	"path/filepath"

	"github.com/jorge-barreto/stencil/internal/cache"
	"github.com/jorge-barreto/stencil/internal/state"
)

var phases = []string{state.PhaseRender, state.PhaseCheck, state.PhaseSync}

// RenderStatus prints the last cycle and the cached instances.
func RenderStatus(st *state.State, slots []cache.Slot, cacheRoot, stateDir string) {
	timing, _ := state.LoadTiming(stateDir)

	if st.RunID == "" {
		fmt.Printf("%sLast cycle:%s %s(none)%s\n", Bold, Reset, Dim, Reset)
	} else {
		color := Yellow
		switch st.Status {
		case state.StatusCompleted:
			color = Green
		case state.StatusFailed, state.StatusInterrupted:
			color = Red
		}
		fmt.Printf("%sLast cycle:%s %s %s(%s, context %s)%s\n", Bold, Reset, st.RunID, Dim, st.Mode, st.Context, Reset)
		fmt.Printf("%sState:%s      %s%s%s at %s\n", Bold, Reset, color, st.Status, Reset, st.Phase)
		for _, p := range phases {
			if d := timing.Last(p); d != "" {
				fmt.Printf("  %-8s %s\n", p, d)
			}
		}
		if st.Phase != state.PhaseRender {
			fmt.Printf("  pipeline passed: %v, edits: %d\n", st.Passed, st.Edits)
		}
		if st.Mode == "sync" && (st.Phase == state.PhaseDone || st.Phase == state.PhaseSync) {
			fmt.Printf("  changes: %d, exempt: %d, unsyncable: %d\n", st.Changes, st.Exempt, st.Unsyncable)
		}
		for _, name := range []string{"pipeline.json", "edits.diff", "sync.diff", "unsyncable.txt"} {
			if state.ReadReport(stateDir, name) != "" {
				fmt.Printf("  %sreport:%s %s\n", Dim, Reset, state.ReportPath(stateDir, name))
			}
		}
	}

	fmt.Printf("\n%sCached instances:%s %s\n", Bold, Reset, cacheRoot)
	if len(slots) == 0 {
		fmt.Printf("  %s(none)%s\n", Dim, Reset)
	}
	for _, s := range slots {
		flag := ""
		if s.Dirty {
			flag = Yellow + " dirty" + Reset
		}
		fmt.Printf("  %s%s%s  %s%s\n", Cyan, s.Key[:min(12, len(s.Key))], Reset, filepath.Join(cacheRoot, "slots", s.ID, s.RootName), flag)
		fmt.Printf("    %stemplate %s, created %s%s\n", Dim, s.Template, s.Created.Local().Format("2006-01-02 15:04"), Reset)
	}
	fmt.Println()
}
