// Package installation persists the per-install identifier attached to
// every telemetry batch.
package installation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileName is the name of the id file inside the state directory.
const FileName = "installation_id"

// ErrInvalidID is returned when the persisted id is not a UUID.
var ErrInvalidID = errors.New("installation: persisted id is not a valid uuid")

// LoadOrCreate returns the installation id stored in dir, generating and
// persisting a new random UUID when none exists yet. created reports
// whether a new id was written.
func LoadOrCreate(dir string) (id string, created bool, err error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id = strings.TrimSpace(string(data))
		if _, perr := uuid.Parse(id); perr != nil {
			return "", false, fmt.Errorf("%w: %q in %s", ErrInvalidID, id, path)
		}
		return id, false, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", false, fmt.Errorf("installation: read %s: %w", path, err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", false, fmt.Errorf("installation: create state dir: %w", err)
	}

	id = uuid.NewString()
	if err := writeAtomic(path, []byte(id+"\n")); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// writeAtomic writes data to a temp file in the same directory and renames
// it over path, so a crash never leaves a truncated id behind.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+FileName+"-*")
	if err != nil {
		return fmt.Errorf("installation: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("installation: write id: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("installation: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("installation: rename id file: %w", err)
	}
	return nil
}
