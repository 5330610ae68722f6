package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PipeWire queries the PipeWire graph through pw-link
type PipeWire struct {
	run func(args ...string) ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{
		run: func(args ...string) ([]byte, error) {
			return exec.Command("pw-link", args...).Output()
		},
	}
}

// ListPorts returns all input and output ports
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.run("-io")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}
	return parsePortList(output), nil
}

// ListSources returns the output ports a microphone can be recorded from
func (pw *PipeWire) ListSources() ([]string, error) {
	output, err := pw.run("-o")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire sources: %w", err)
	}
	return parsePortList(output), nil
}

func parsePortList(output []byte) []string {
	var ports []string
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// ValidateSource checks that a configured source exists exactly once
func (pw *PipeWire) ValidateSource(source string) error {
	if source == "" || source == "default" {
		return nil
	}

	sources, err := pw.ListSources()
	if err != nil {
		return err
	}
	return validateSourceInList(source, sources)
}

func validateSourceInList(source string, sources []string) error {
	duplicates := findDuplicates(source, sources)
	if len(duplicates) == 0 {
		return fmt.Errorf("source not found: %s", source)
	}
	if len(duplicates) > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", source, duplicates)
	}
	return nil
}

// findDuplicates returns every entry equal to name
func findDuplicates(name string, all []string) []string {
	var duplicates []string
	for _, port := range all {
		if port == name {
			duplicates = append(duplicates, port)
		}
	}
	return duplicates
}

// pipewireMicrophone streams raw PCM from pw-record's stdout
type pipewireMicrophone struct {
	binary     string
	target     string
	sampleRate int
	channels   int

	cmd       *exec.Cmd
	reader    *bufio.Reader
	closeOnce sync.Once
}

// NewPipeWireMicrophone creates a microphone backed by pw-record. An empty
// target or "default" records from the default source.
func NewPipeWireMicrophone(target string, sampleRate, channels int) Microphone {
	return &pipewireMicrophone{
		binary:     "pw-record",
		target:     target,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

func (m *pipewireMicrophone) args() []string {
	args := []string{
		"--rate", strconv.Itoa(m.sampleRate),
		"--channels", strconv.Itoa(m.channels),
		"--format", "s16",
	}
	if m.target != "" && m.target != "default" {
		args = append(args, "--target", m.target)
	}
	return append(args, "-")
}

// Open starts pw-record and waits for the first PCM bytes
func (m *pipewireMicrophone) Open(ctx context.Context) error {
	cmd := exec.Command(m.binary, m.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create pw-record pipe: %w", err)
	}

	slog.Debug("Starting pw-record", "args", strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start pw-record: %w", err)
	}

	reader := bufio.NewReaderSize(stdout, 64*1024)
	first := make(chan error, 1)
	go func() {
		_, err := reader.Peek(1)
		first <- err
	}()

	select {
	case err := <-first:
		if err != nil {
			killAndWait(cmd)
			if err == io.EOF {
				return fmt.Errorf("pw-record exited before producing audio")
			}
			return fmt.Errorf("failed to read from pw-record: %w", err)
		}
	case <-ctx.Done():
		killAndWait(cmd)
		return ctx.Err()
	}

	m.cmd = cmd
	m.reader = reader
	return nil
}

func (m *pipewireMicrophone) Read(p []byte) (int, error) {
	if m.reader == nil {
		return 0, io.EOF
	}
	return m.reader.Read(p)
}

// Close interrupts pw-record, killing it if it does not exit promptly
func (m *pipewireMicrophone) Close() error {
	if m.cmd == nil || m.cmd.Process == nil {
		return nil
	}

	var err error
	m.closeOnce.Do(func() {
		if sigErr := m.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			slog.Debug("Failed to interrupt pw-record", "error", sigErr)
		}

		done := make(chan error, 1)
		go func() { done <- m.cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			slog.Warn("pw-record did not stop, killing")
			err = m.cmd.Process.Kill()
			<-done
		}
	})
	return err
}

func killAndWait(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	cmd.Wait()
}
