package installation

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestLoadOrCreate_CreatesThenReuses(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	id, created, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("first call: created = false, want true")
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("id %q is not a uuid: %v", id, err)
	}

	again, created, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if created {
		t.Error("second call: created = true, want false")
	}
	if again != id {
		t.Errorf("second id = %q, want %q", again, id)
	}
}

func TestLoadOrCreate_ReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	want := "6f1c1a64-5a0e-4c57-9a4b-1f0b8a3f2c11"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("  "+want+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	id, created, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if created || id != want {
		t.Errorf("got (%q, %v), want (%q, false)", id, created, want)
	}
}

func TestLoadOrCreate_RejectsCorruptID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("not-a-uuid"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, _, err := LoadOrCreate(dir)
	if !errors.Is(err, ErrInvalidID) {
		t.Fatalf("err = %v, want ErrInvalidID", err)
	}
}

func TestLoadOrCreate_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := LoadOrCreate(dir); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != FileName {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir entries = %v, want [%s]", names, FileName)
	}
}
