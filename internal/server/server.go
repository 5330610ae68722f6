// Package server exposes the camera service over HTTP for remote control.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audiolibrelab/camcapture/internal/recorder"
	"github.com/audiolibrelab/camcapture/internal/service"
)

const shutdownTimeout = 5 * time.Second

// Server represents the web server for controlling the camera
type Server struct {
	service    service.Service
	addr       string
	engine     *gin.Engine
	httpServer *http.Server
}

// GenericResponse represents a generic JSON response
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is returned by every failing endpoint
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// RecordingResponse is returned by start and stop
type RecordingResponse struct {
	Success bool                      `json:"success"`
	Message string                    `json:"message"`
	Session *service.RecordingSession `json:"session,omitempty"`
}

// LocationRequest sets the output location of the next recording
type LocationRequest struct {
	Location string `json:"location"`
}

// VideoRequest changes encoder settings for the next recording
type VideoRequest struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	FrameRate int `json:"frame_rate"`
	Bitrate   int `json:"bitrate"`
}

func (r VideoRequest) toSettings() recorder.VideoSettings {
	return recorder.VideoSettings{
		Width:     r.Width,
		Height:    r.Height,
		FrameRate: r.FrameRate,
		Bitrate:   r.Bitrate,
	}
}

// New creates a web server for svc listening on addr
func New(svc service.Service, addr string) *Server {
	s := &Server{
		service: svc,
		addr:    addr,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.POST("/recording/start", s.handleStartRecording)
	api.POST("/recording/stop", s.handleStopRecording)
	api.PUT("/recording/location", s.handleSetLocation)
	api.PUT("/recording/video", s.handleSetVideo)
	api.GET("/devices", s.handleDevices)
	api.GET("/recordings", s.handleRecordings)
	api.GET("/recordings/:name/analyze", s.handleAnalyze)
	api.GET("/events", s.handleEvents)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	_, port, _ := net.SplitHostPort(listener.Addr().String())
	slog.Info("Starting camera control server",
		"addr", listener.Addr().String(),
		"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", port))

	serveErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server failed: %w", err)
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down camera control server")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.GetRecordingStatus())
}

func (s *Server) handleStartRecording(c *gin.Context) {
	var req service.StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.sendErrorResponse(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err), "operation", "start_recording")
			return
		}
	}

	session, err := s.service.StartRecording(req)
	if err != nil {
		s.sendErrorResponse(c, http.StatusConflict, err.Error(), "operation", "start_recording")
		return
	}

	c.JSON(http.StatusOK, RecordingResponse{
		Success: true,
		Message: "Recording started",
		Session: session,
	})
}

func (s *Server) handleStopRecording(c *gin.Context) {
	session, err := s.service.StopRecording()
	if err != nil {
		s.sendErrorResponse(c, http.StatusConflict, err.Error(), "operation", "stop_recording")
		return
	}

	c.JSON(http.StatusOK, RecordingResponse{
		Success: true,
		Message: "Recording stopped",
		Session: session,
	})
}

func (s *Server) handleSetLocation(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err), "operation", "set_location")
		return
	}

	if err := s.service.SetOutputLocation(req.Location); err != nil {
		s.sendErrorResponse(c, http.StatusInternalServerError, err.Error(), "operation", "set_location")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Output location updated"})
}

func (s *Server) handleSetVideo(c *gin.Context) {
	var req VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err), "operation", "set_video")
		return
	}

	if err := s.service.SetVideoSettings(req.toSettings()); err != nil {
		s.sendErrorResponse(c, http.StatusBadRequest, err.Error(), "operation", "set_video")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Video settings updated"})
}

func (s *Server) handleDevices(c *gin.Context) {
	devices, err := s.service.ListDevices()
	if err != nil {
		s.sendErrorResponse(c, http.StatusInternalServerError, fmt.Sprintf("Failed to list devices: %v", err), "operation", "list_devices")
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "total_count": len(devices)})
}

func (s *Server) handleRecordings(c *gin.Context) {
	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(c, http.StatusInternalServerError, fmt.Sprintf("Failed to list recordings: %v", err), "operation", "list_recordings")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recordings":       recordings,
		"total_count":      len(recordings),
		"output_directory": s.service.GetConfig().Output.Directory,
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	analysis, err := s.service.AnalyzeRecording(c.Param("name"))
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, service.ErrInvalidRecording):
			status = http.StatusBadRequest
		case errors.Is(err, service.ErrRecordingNotFound):
			status = http.StatusNotFound
		}
		s.sendErrorResponse(c, status, err.Error(), "operation", "analyze_recording")
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(c *gin.Context, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Success:   false,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
