package audio

import (
	"errors"
	"strings"
	"testing"
)

func TestParsePortList(t *testing.T) {
	output := []byte("Output ports:\nalsa_input.usb-mic:capture_FL\n  alsa_input.usb-mic:capture_FR  \n\nInput ports:\n")

	ports := parsePortList(output)
	if len(ports) != 2 {
		t.Fatalf("Expected 2 ports, got %d: %v", len(ports), ports)
	}
	if ports[1] != "alsa_input.usb-mic:capture_FR" {
		t.Errorf("Expected trimmed port name, got %q", ports[1])
	}
}

func TestListSources(t *testing.T) {
	var gotArgs []string
	pw := &PipeWire{run: func(args ...string) ([]byte, error) {
		gotArgs = args
		return []byte("system:capture_1\nsystem:capture_2\n"), nil
	}}

	sources, err := pw.ListSources()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(gotArgs) != 1 || gotArgs[0] != "-o" {
		t.Errorf("Expected pw-link -o, got %v", gotArgs)
	}
	if len(sources) != 2 {
		t.Errorf("Expected 2 sources, got %v", sources)
	}
}

func TestListSources_CommandFails(t *testing.T) {
	pw := &PipeWire{run: func(args ...string) ([]byte, error) {
		return nil, errors.New("pw-link: not found")
	}}

	if _, err := pw.ListSources(); err == nil {
		t.Error("Expected error when pw-link fails")
	}
}

func TestValidateSource_Success(t *testing.T) {
	err := validateSourceInList("system:capture_1", []string{"Chrome:output_FL", "system:capture_1"})
	if err != nil {
		t.Errorf("Expected no error for valid single source, got: %v", err)
	}
}

func TestValidateSource_NotFound(t *testing.T) {
	err := validateSourceInList("nonexistent:port", []string{"Chrome:output_FL"})
	if err == nil {
		t.Fatal("Expected error for nonexistent source")
	}
	if !strings.Contains(err.Error(), "source not found") {
		t.Errorf("Expected 'source not found' error, got: %v", err)
	}
}

func TestValidateSource_DuplicateDetection(t *testing.T) {
	sources := []string{"Chrome:output_FL", "Chrome:output_FL", "system:capture_1"}

	err := validateSourceInList("Chrome:output_FL", sources)
	if err == nil {
		t.Fatal("Expected error for duplicate sources")
	}
	if !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected duplicate sources error, got: %v", err)
	}
}

func TestValidateSource_DefaultSkipsLookup(t *testing.T) {
	pw := &PipeWire{run: func(args ...string) ([]byte, error) {
		t.Error("pw-link should not be called for the default source")
		return nil, nil
	}}

	if err := pw.ValidateSource(""); err != nil {
		t.Errorf("Expected no error for empty source, got: %v", err)
	}
	if err := pw.ValidateSource("default"); err != nil {
		t.Errorf("Expected no error for default source, got: %v", err)
	}
}

func TestPipeWireMicrophoneArgs(t *testing.T) {
	mic := NewPipeWireMicrophone("alsa_input.usb-mic", 96000, 2).(*pipewireMicrophone)
	got := strings.Join(mic.args(), " ")
	want := "--rate 96000 --channels 2 --format s16 --target alsa_input.usb-mic -"
	if got != want {
		t.Errorf("Expected args %q, got %q", want, got)
	}

	mic = NewPipeWireMicrophone("default", 48000, 1).(*pipewireMicrophone)
	if strings.Contains(strings.Join(mic.args(), " "), "--target") {
		t.Error("Expected no --target for the default source")
	}
}

func TestPipeWireMicrophone_CloseBeforeOpen(t *testing.T) {
	mic := NewPipeWireMicrophone("", 48000, 2)
	if err := mic.Close(); err != nil {
		t.Errorf("Expected no error closing unopened microphone, got: %v", err)
	}
}
