package storage

import "sync"

// Location is a geotag attached to the next recording
type Location struct {
	Latitude  float64
	Longitude float64
}

// Metadata holds values written into the next recording. The recorder reads
// them once while configuring and then clears them.
type Metadata struct {
	mu          sync.Mutex
	orientation int
	location    *Location
	fallback    int
}

// NewMetadata creates a Metadata whose orientation resets to fallback on clear
func NewMetadata(fallback int) *Metadata {
	return &Metadata{orientation: fallback, fallback: fallback}
}

func (m *Metadata) Orientation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orientation
}

func (m *Metadata) SetOrientation(degrees int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orientation = ((degrees % 360) + 360) % 360
}

// Location returns the pending geotag, if any
func (m *Metadata) Location() (Location, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.location == nil {
		return Location{}, false
	}
	return *m.location, true
}

func (m *Metadata) SetLocation(loc Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.location = &loc
}

// ClearAllMetaData drops pending metadata
func (m *Metadata) ClearAllMetaData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orientation = m.fallback
	m.location = nil
}
