package us

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJournalNoDataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := openBackfillJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.RecordNoData([]string{"AAAA", "BBBB", "CCCC"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := openBackfillJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, sym := range []string{"AAAA", "BBBB", "CCCC"} {
		if !reopened.HasNoData(sym) {
			t.Errorf("expected %q on the no-data list after reopen", sym)
		}
	}
	if reopened.HasNoData("DDDD") {
		t.Error("DDDD should not be on the no-data list")
	}
}

func TestJournalNoDataAppendsOnce(t *testing.T) {
	dir := t.TempDir()

	j, err := openBackfillJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.RecordNoData([]string{"AAAA", "BBBB"}); err != nil {
		t.Fatal(err)
	}
	// Recording the same symbols again must not duplicate the file.
	if err := j.RecordNoData([]string{"AAAA", "BBBB"}); err != nil {
		t.Fatal(err)
	}

	reopened, err := openBackfillJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(reopened.noData) != 2 {
		t.Errorf("no-data list has %d entries after reload, want 2", len(reopened.noData))
	}
}

func TestJournalCheckpoint(t *testing.T) {
	j, err := openBackfillJournal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if cp := j.Checkpoint(); cp != "" {
		t.Errorf("fresh journal checkpoint = %q, want empty", cp)
	}
	if err := j.SetCheckpoint("2025-02-10"); err != nil {
		t.Fatal(err)
	}
	if cp := j.Checkpoint(); cp != "2025-02-10" {
		t.Errorf("checkpoint = %q, want 2025-02-10", cp)
	}
}

func TestJournalResumesFromPartialRun(t *testing.T) {
	dir := t.TempDir()

	// Simulate a crashed run that left entries behind.
	path := filepath.Join(dir, noDataFile)
	if err := os.WriteFile(path, []byte("XXXX\nYYYY\nZZZZ\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	j, err := openBackfillJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !j.HasNoData("XXXX") || !j.HasNoData("YYYY") {
		t.Error("entries from the interrupted run should be loaded")
	}

	if err := j.RecordNoData([]string{"WWWW"}); err != nil {
		t.Fatal(err)
	}
	if !j.HasNoData("WWWW") {
		t.Error("WWWW should be on the no-data list after recording")
	}
}

func TestJournalDrop(t *testing.T) {
	dir := t.TempDir()

	j, err := openBackfillJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.RecordNoData([]string{"AAAA"}); err != nil {
		t.Fatal(err)
	}
	if err := j.Drop(); err != nil {
		t.Fatal(err)
	}

	if j.HasNoData("AAAA") {
		t.Error("AAAA should be gone after Drop")
	}
	if _, err := os.Stat(filepath.Join(dir, noDataFile)); !os.IsNotExist(err) {
		t.Errorf("no-data file should be removed after Drop, stat err = %v", err)
	}

	// Recording after a drop starts a fresh file.
	if err := j.RecordNoData([]string{"BBBB"}); err != nil {
		t.Fatal(err)
	}
	reopened, err := openBackfillJournal(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.HasNoData("AAAA") || !reopened.HasNoData("BBBB") {
		t.Error("dropped entries resurfaced or fresh entry lost")
	}
}
