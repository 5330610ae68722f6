package camera

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type mockControl struct {
	device      string
	locked      bool
	lockErr     error
	unlockErr   error
	lockCalls   int
	unlockCalls int
}

func (m *mockControl) Device() string { return m.device }

func (m *mockControl) Lock() error {
	m.lockCalls++
	if m.lockErr != nil {
		return m.lockErr
	}
	m.locked = true
	return nil
}

func (m *mockControl) Unlock() error {
	m.unlockCalls++
	if m.unlockErr != nil {
		return m.unlockErr
	}
	m.locked = false
	return nil
}

func TestArbiter_ReleaseAndReacquirePairOnce(t *testing.T) {
	ctl := &mockControl{device: "test", locked: true}
	a := NewArbiter(ctl)

	if err := a.ReleaseForRecording(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := a.ReleaseForRecording(); err != nil {
		t.Fatalf("Expected second release to be a no-op, got: %v", err)
	}
	if ctl.unlockCalls != 1 {
		t.Errorf("Expected 1 unlock, got %d", ctl.unlockCalls)
	}
	if !a.Released() {
		t.Error("Expected arbiter to report released")
	}

	if err := a.ReacquireAfterRecording(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := a.ReacquireAfterRecording(); err != nil {
		t.Fatalf("Expected second reacquire to be a no-op, got: %v", err)
	}
	if ctl.lockCalls != 1 {
		t.Errorf("Expected 1 lock, got %d", ctl.lockCalls)
	}
	if !ctl.locked || a.Released() {
		t.Error("Expected camera locked again after reacquire")
	}
}

func TestArbiter_ReacquireWithoutReleaseIsNoop(t *testing.T) {
	ctl := &mockControl{device: "test", locked: true}
	a := NewArbiter(ctl)

	if err := a.ReacquireAfterRecording(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if ctl.lockCalls != 0 {
		t.Errorf("Expected no lock calls, got %d", ctl.lockCalls)
	}
}

func TestArbiter_NoConnection(t *testing.T) {
	a := NewArbiter(nil)
	if err := a.ReleaseForRecording(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got: %v", err)
	}
}

func TestArbiter_UnlockFailureKeepsState(t *testing.T) {
	ctl := &mockControl{device: "test", locked: true, unlockErr: errors.New("boom")}
	a := NewArbiter(ctl)

	if err := a.ReleaseForRecording(); err == nil {
		t.Fatal("Expected error from failing unlock")
	}
	if a.Released() {
		t.Error("Expected arbiter not released after failed unlock")
	}
}

func TestArbiter_LockFailureKeepsReleased(t *testing.T) {
	ctl := &mockControl{device: "test", locked: true}
	a := NewArbiter(ctl)

	if err := a.ReleaseForRecording(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	ctl.lockErr = errors.New("busy")
	if err := a.ReacquireAfterRecording(); err == nil {
		t.Fatal("Expected error from failing lock")
	}
	if !a.Released() || ctl.locked {
		t.Error("Expected arbiter to stay released while the lock is not held")
	}

	// The next session finds the camera already free and retries afterwards
	if err := a.ReleaseForRecording(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if ctl.unlockCalls != 1 {
		t.Errorf("Expected no second unlock, got %d", ctl.unlockCalls)
	}
	ctl.lockErr = nil
	if err := a.ReacquireAfterRecording(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if a.Released() || !ctl.locked || ctl.lockCalls != 2 {
		t.Errorf("Expected lock retried and held, got locked=%v calls=%d", ctl.locked, ctl.lockCalls)
	}
}

func TestArbiter_SetConnectionRefusedWhileReleased(t *testing.T) {
	a := NewArbiter(&mockControl{device: "test", locked: true})
	if err := a.ReleaseForRecording(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := a.SetConnection(nil); err == nil {
		t.Error("Expected error swapping connection while recording")
	}
}

func TestDevice_FlockIsExclusive(t *testing.T) {
	node := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(node, nil, 0644); err != nil {
		t.Fatalf("Failed to create fake node: %v", err)
	}

	first, err := Open(node)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer first.Close()

	if _, err := Open(node); !errors.Is(err, ErrBusy) {
		t.Fatalf("Expected ErrBusy for second connection, got: %v", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	second, err := Open(node)
	if err != nil {
		t.Fatalf("Expected second connection to lock after unlock, got: %v", err)
	}
	defer second.Close()

	if err := first.Lock(); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy relocking a taken sensor, got: %v", err)
	}
}

func TestDevice_Virtual(t *testing.T) {
	d, err := Open("test")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !d.Locked() {
		t.Error("Expected virtual device locked after open")
	}
	if err := d.Unlock(); err != nil || d.Locked() {
		t.Errorf("Expected unlock to succeed, err: %v", err)
	}
	d.Close()
	if err := d.Lock(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got: %v", err)
	}
}

func TestDiscovery_ListDevices(t *testing.T) {
	devDir := t.TempDir()
	sysDir := t.TempDir()
	for _, name := range []string{"video10", "video2", "video0", "vbi0"} {
		if err := os.WriteFile(filepath.Join(devDir, name), nil, 0644); err != nil {
			t.Fatalf("Failed to create node: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(sysDir, "video0"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sysDir, "video0", "name"), []byte("Integrated Rear Camera\n"), 0644); err != nil {
		t.Fatal(err)
	}

	d := &Discovery{devDir: devDir, sysDir: sysDir, codename: "cooler"}
	devices, err := d.ListDevices()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(devices) != 3 {
		t.Fatalf("Expected 3 devices, got %d", len(devices))
	}
	if devices[0].ID != "0" || devices[1].ID != "2" || devices[2].ID != "10" {
		t.Errorf("Expected devices sorted by index, got %v %v %v", devices[0].ID, devices[1].ID, devices[2].ID)
	}
	if devices[0].Description != "Camera 0 Back facing" {
		t.Errorf("Unexpected description: %s", devices[0].Description)
	}
	if devices[0].Orientation != 270 {
		t.Errorf("Expected cooler_0 override 270, got %d", devices[0].Orientation)
	}
	if devices[1].Description != "Camera 2" {
		t.Errorf("Unexpected description: %s", devices[1].Description)
	}
}

func TestDiscovery_Orientation(t *testing.T) {
	tests := []struct {
		codename string
		id       string
		reported int
		want     int
	}{
		{"", "0", 90, 270},
		{"", "0", 0, 0},
		{"", "1", 270, 90},
		{"krillin", "1", 270, 90},
		{"krillin", "0", 90, 270},
		{"vegetahd", "1", 0, 90},
	}

	for _, tt := range tests {
		d := &Discovery{codename: tt.codename}
		if got := d.Orientation(tt.id, tt.reported); got != tt.want {
			t.Errorf("Orientation(%s_%s, %d) = %d, want %d", tt.codename, tt.id, tt.reported, got, tt.want)
		}
	}
}
