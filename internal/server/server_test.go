package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/camcapture/internal/camera"
	"github.com/audiolibrelab/camcapture/internal/config"
	"github.com/audiolibrelab/camcapture/internal/recorder"
	"github.com/audiolibrelab/camcapture/internal/service"
)

// mockService records calls made by the handlers
type mockService struct {
	mu sync.Mutex

	startReq    *service.StartRequest
	startErr    error
	stopErr     error
	location    string
	settings    recorder.VideoSettings
	settingsErr error
	analyzeErr  error
	events      chan service.Event
	unsubscribe chan string
}

func newMockService() *mockService {
	return &mockService{
		events:      make(chan service.Event, 4),
		unsubscribe: make(chan string, 1),
	}
}

func (m *mockService) StartRecording(req service.StartRequest) (*service.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startReq = &req
	if m.startErr != nil {
		return nil, m.startErr
	}
	return &service.RecordingSession{ID: "session-1", OutputFile: "/tmp/video.mp4"}, nil
}

func (m *mockService) StopRecording() (*service.RecordingSession, error) {
	if m.stopErr != nil {
		return nil, m.stopErr
	}
	return &service.RecordingSession{ID: "session-1", DurationMs: 3000}, nil
}

func (m *mockService) GetRecordingStatus() service.StatusInfo {
	return service.StatusInfo{State: "stopped", Status: "unloaded", Device: "test"}
}

func (m *mockService) SetOutputLocation(location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.location = location
	return nil
}

func (m *mockService) SetVideoSettings(settings recorder.VideoSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	return m.settingsErr
}

func (m *mockService) ApplyConfig(cfg *config.Config) error { return nil }
func (m *mockService) GetConfig() *config.Config            { return config.Default() }

func (m *mockService) ListDevices() ([]camera.DeviceInfo, error) {
	return []camera.DeviceInfo{{ID: "0", Path: "/dev/video0", Description: "Camera 0 Back facing"}}, nil
}

func (m *mockService) ListRecordings() ([]service.RecordingInfo, error) {
	return []service.RecordingInfo{{Name: "video_1.mp4"}}, nil
}

func (m *mockService) AnalyzeRecording(filename string) (*service.RecordingAnalysis, error) {
	if m.analyzeErr != nil {
		return nil, m.analyzeErr
	}
	return &service.RecordingAnalysis{Filename: filename, Duration: 1.5}, nil
}

func (m *mockService) GetLastError() string { return "" }

func (m *mockService) Subscribe() (string, <-chan service.Event) {
	return "sub-1", m.events
}

func (m *mockService) Unsubscribe(id string) {
	m.unsubscribe <- id
}

func (m *mockService) Close() error { return nil }

func init() {
	gin.SetMode(gin.TestMode)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := New(newMockService(), "127.0.0.1:0")
	w := doRequest(t, s, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"healthy"`) {
		t.Errorf("Unexpected body: %s", w.Body.String())
	}
}

func TestStatus(t *testing.T) {
	s := New(newMockService(), "127.0.0.1:0")
	w := doRequest(t, s, http.MethodGet, "/api/status", "")

	var status service.StatusInfo
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.State != "stopped" || status.Device != "test" {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestStartRecording(t *testing.T) {
	svc := newMockService()
	s := New(svc, "127.0.0.1:0")

	w := doRequest(t, s, http.MethodPost, "/api/recording/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp RecordingResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Success || resp.Session == nil || resp.Session.ID != "session-1" {
		t.Errorf("Unexpected response: %+v", resp)
	}
	if svc.startReq == nil || svc.startReq.Latitude != nil {
		t.Errorf("Expected empty start request, got %+v", svc.startReq)
	}
}

func TestStartRecording_WithGeotag(t *testing.T) {
	svc := newMockService()
	s := New(svc, "127.0.0.1:0")

	w := doRequest(t, s, http.MethodPost, "/api/recording/start", `{"latitude": 48.85, "longitude": 2.35}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if svc.startReq.Latitude == nil || *svc.startReq.Latitude != 48.85 {
		t.Errorf("Expected latitude to be forwarded, got %+v", svc.startReq)
	}
}

func TestStartRecording_Failure(t *testing.T) {
	svc := newMockService()
	svc.startErr = errors.New("Recording already in progress")
	s := New(svc, "127.0.0.1:0")

	w := doRequest(t, s, http.MethodPost, "/api/recording/start", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Success || resp.Error != "Recording already in progress" {
		t.Errorf("Unexpected error response: %+v", resp)
	}
}

func TestStartRecording_BadBody(t *testing.T) {
	s := New(newMockService(), "127.0.0.1:0")
	w := doRequest(t, s, http.MethodPost, "/api/recording/start", `{"latitude": "north"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestStopRecording(t *testing.T) {
	svc := newMockService()
	s := New(svc, "127.0.0.1:0")

	w := doRequest(t, s, http.MethodPost, "/api/recording/stop", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	svc.stopErr = errors.New("no recording in progress")
	w = doRequest(t, s, http.MethodPost, "/api/recording/stop", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 when idle, got %d", w.Code)
	}
}

func TestStopRecording_WrongMethod(t *testing.T) {
	s := New(newMockService(), "127.0.0.1:0")
	w := doRequest(t, s, http.MethodGet, "/api/recording/stop", "")
	if w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected GET to be rejected, got %d", w.Code)
	}
}

func TestSetLocation(t *testing.T) {
	svc := newMockService()
	s := New(svc, "127.0.0.1:0")

	w := doRequest(t, s, http.MethodPut, "/api/recording/location", `{"location": "file:///tmp/clips"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if svc.location != "file:///tmp/clips" {
		t.Errorf("Expected location to be forwarded, got %q", svc.location)
	}

	w = doRequest(t, s, http.MethodPut, "/api/recording/location", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", w.Code)
	}
}

func TestSetVideo(t *testing.T) {
	svc := newMockService()
	s := New(svc, "127.0.0.1:0")

	w := doRequest(t, s, http.MethodPut, "/api/recording/video", `{"width": 1920, "height": 1080, "frame_rate": 30, "bitrate": 8000000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	want := recorder.VideoSettings{Width: 1920, Height: 1080, FrameRate: 30, Bitrate: 8000000}
	if svc.settings != want {
		t.Errorf("Expected %+v, got %+v", want, svc.settings)
	}

	svc.settingsErr = errors.New("invalid frame rate 0")
	w = doRequest(t, s, http.MethodPut, "/api/recording/video", `{"width": 1920, "height": 1080}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for rejected settings, got %d", w.Code)
	}
}

func TestDevicesAndRecordings(t *testing.T) {
	s := New(newMockService(), "127.0.0.1:0")

	w := doRequest(t, s, http.MethodGet, "/api/devices", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/dev/video0") {
		t.Errorf("Unexpected devices response %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, s, http.MethodGet, "/api/recordings", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "video_1.mp4") {
		t.Errorf("Unexpected recordings response %d: %s", w.Code, w.Body.String())
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"invalid", fmt.Errorf("%w: ..", service.ErrInvalidRecording), http.StatusBadRequest},
		{"missing", fmt.Errorf("%w: x.mp4", service.ErrRecordingNotFound), http.StatusNotFound},
		{"probe", errors.New("ffprobe failed"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService()
			svc.analyzeErr = tt.err
			s := New(svc, "127.0.0.1:0")

			w := doRequest(t, s, http.MethodGet, "/api/recordings/video_1.mp4/analyze", "")
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestEvents(t *testing.T) {
	svc := newMockService()
	s := New(svc, "127.0.0.1:0")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}

	svc.events <- service.Event{Type: service.EventStateChanged, State: "recording"}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event service.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if event.Type != service.EventStateChanged || event.State != "recording" {
		t.Errorf("Unexpected event: %+v", event)
	}

	conn.Close()
	select {
	case id := <-svc.unsubscribe:
		if id != "sub-1" {
			t.Errorf("Expected sub-1 to be unsubscribed, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Subscriber was not removed after disconnect")
	}
}

func TestEvents_ServiceClosed(t *testing.T) {
	svc := newMockService()
	s := New(svc, "127.0.0.1:0")
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	close(svc.events)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Expected going-away close, got: %v", err)
	}
}

func TestStartAndShutdown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	s := New(newMockService(), addr)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start(ctx)
	}()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("Server did not come up: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Expected clean shutdown, got: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Server shutdown timed out")
	}
}
