package scaffold

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrAlreadyInitialized is returned when dir already holds a warren.yml.
var ErrAlreadyInitialized = errors.New("project already initialized")

// CheckExisting returns ErrAlreadyInitialized if dir already has a warren.yml.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: found existing %s", ErrAlreadyInitialized, path)
	}
	return nil
}
