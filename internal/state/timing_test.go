package state

import (
	"testing"
	"time"
)

func TestTiming_StartEndFlush(t *testing.T) {
	dir := t.TempDir()
	tm, err := LoadTiming(dir)
	if err != nil {
		t.Fatal(err)
	}
	tm.AddStart("render")
	tm.AddEnd("render")
	if tm.Last("render") == "" {
		t.Fatal("expected a duration for render")
	}
	if err := tm.Flush(dir); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadTiming(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Entries) != 1 || loaded.Entries[0].Name != "render" {
		t.Fatalf("entries = %+v", loaded.Entries)
	}
}

func TestTiming_AddEndMatchesMostRecentOpen(t *testing.T) {
	tm := &Timing{}
	tm.AddStart("step")
	tm.AddEnd("step")
	tm.AddStart("step")
	tm.AddEnd("step")
	if len(tm.Entries) != 2 {
		t.Fatalf("entries = %d", len(tm.Entries))
	}
	for i, e := range tm.Entries {
		if e.End.IsZero() {
			t.Fatalf("entry %d not closed", i)
		}
	}
}

func TestTiming_Reset(t *testing.T) {
	tm := &Timing{}
	tm.AddStart("x")
	tm.Reset()
	if len(tm.Entries) != 0 {
		t.Fatalf("entries = %d after reset", len(tm.Entries))
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(75 * time.Second); got != "1m 15s" {
		t.Fatalf("got %q", got)
	}
	if got := FormatDuration(5 * time.Second); got != "0m 05s" {
		t.Fatalf("got %q", got)
	}
}
