package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Position is the side of the device a camera faces
type Position string

const (
	PositionUnspecified Position = "unspecified"
	PositionBack        Position = "back"
	PositionFront       Position = "front"
)

// DeviceInfo describes an enumerated camera
type DeviceInfo struct {
	ID          string   `json:"id"`
	Path        string   `json:"path"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Position    Position `json:"position"`
	Orientation int      `json:"orientation"`
}

// Some devices report a sensor orientation that does not match how the
// sensor is mounted. Keys are "<codename>_<camera id>", values are already in
// sensor-orientation convention.
var orientationOverrides = map[string]int{
	"krillin_1":  90,
	"vegetahd_1": 90,
	"cooler_0":   270,
	"cooler_1":   90,
}

var videoNodePattern = regexp.MustCompile(`^video(\d+)$`)

// Discovery enumerates V4L2 camera nodes
type Discovery struct {
	devDir   string
	sysDir   string
	codename string
}

// NewDiscovery creates a Discovery for the running system. codename selects
// orientation overrides and may be empty.
func NewDiscovery(codename string) *Discovery {
	return &Discovery{
		devDir:   "/dev",
		sysDir:   "/sys/class/video4linux",
		codename: codename,
	}
}

// ListDevices returns cameras sorted by index
func (d *Discovery) ListDevices() ([]DeviceInfo, error) {
	matches, err := filepath.Glob(filepath.Join(d.devDir, "video*"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan camera devices: %w", err)
	}

	var devices []DeviceInfo
	for _, match := range matches {
		id, ok := deviceID(match)
		if !ok {
			continue
		}
		devices = append(devices, d.describe(id, match))
	}

	sort.Slice(devices, func(i, j int) bool {
		a, _ := strconv.Atoi(devices[i].ID)
		b, _ := strconv.Atoi(devices[j].ID)
		return a < b
	})

	return devices, nil
}

// Describe returns information for a single device path
func (d *Discovery) Describe(path string) (DeviceInfo, error) {
	id, ok := deviceID(path)
	if !ok {
		return DeviceInfo{}, fmt.Errorf("not a camera device: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		return DeviceInfo{}, fmt.Errorf("camera device not available: %w", err)
	}
	return d.describe(id, path), nil
}

func (d *Discovery) describe(id, path string) DeviceInfo {
	name := d.sysName(id)
	position := positionFromName(name)

	return DeviceInfo{
		ID:          id,
		Path:        path,
		Name:        name,
		Description: Description(id, position),
		Position:    position,
		Orientation: d.Orientation(id, 0),
	}
}

// Orientation returns the sensor orientation for camera id. reported is the
// rotation the driver asks for, which is the inverse of the mounting angle.
func (d *Discovery) Orientation(id string, reported int) int {
	if d.codename != "" {
		if o, ok := orientationOverrides[d.codename+"_"+id]; ok {
			return o
		}
	}
	return (360 - reported%360) % 360
}

// Description renders the human readable camera label
func Description(id string, position Position) string {
	switch position {
	case PositionFront:
		return fmt.Sprintf("Camera %s Front facing", id)
	case PositionBack:
		return fmt.Sprintf("Camera %s Back facing", id)
	default:
		return fmt.Sprintf("Camera %s", id)
	}
}

func (d *Discovery) sysName(id string) string {
	data, err := os.ReadFile(filepath.Join(d.sysDir, "video"+id, "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func positionFromName(name string) Position {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "front"), strings.Contains(lower, "user"):
		return PositionFront
	case strings.Contains(lower, "back"), strings.Contains(lower, "rear"), strings.Contains(lower, "world"):
		return PositionBack
	}
	return PositionUnspecified
}

func deviceID(path string) (string, bool) {
	m := videoNodePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", false
	}
	return m[1], true
}
