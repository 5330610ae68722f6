// Package storage resolves where recordings are written and carries the
// per-recording metadata applied to the encoder.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const fileNameTimeLayout = "20060102_150405.000"

// Manager hands out fresh output file names for recordings
type Manager struct {
	directory string
	prefix    string
	extension string

	// now is overridable for tests
	now func() time.Time

	mu sync.Mutex
}

// NewManager creates a Manager writing under directory
func NewManager(directory, prefix, extension string) *Manager {
	if prefix == "" {
		prefix = "video"
	}
	if extension == "" {
		extension = "mp4"
	}
	return &Manager{
		directory: directory,
		prefix:    prefix,
		extension: extension,
		now:       time.Now,
	}
}

// Directory returns the default recordings directory
func (m *Manager) Directory() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.directory
}

// Configure changes where and how later recordings are named
func (m *Manager) Configure(directory, prefix, extension string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.directory = directory
	if prefix != "" {
		m.prefix = prefix
	}
	if extension != "" {
		m.extension = extension
	}
}

// NextVideoFileName returns an unused path for a new recording. An empty
// directory selects the default recordings directory, which is created if
// missing.
func (m *Manager) NextVideoFileName(directory string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if directory == "" {
		directory = m.directory
	}
	if err := os.MkdirAll(directory, 0755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}

	// yyyyMMdd_HHmmss.zzz with the dot dropped keeps names sortable
	stamp := m.now().Format(fileNameTimeLayout)
	stamp = stamp[:15] + stamp[16:]
	base := fmt.Sprintf("%s_%s", m.prefix, stamp)

	candidate := filepath.Join(directory, base+"."+m.extension)
	for i := 1; fileExists(candidate); i++ {
		candidate = filepath.Join(directory, fmt.Sprintf("%s_%d.%s", base, i, m.extension))
	}

	slog.Debug("Resolved next video file name", "path", candidate)
	return candidate, nil
}

// IsDir reports whether path names an existing directory
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
