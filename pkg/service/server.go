// Package service exposes the caption pipeline over HTTP.
//
// Routes:
//
//	GET  /         upload page
//	POST /upload   multipart field "file", optional form field "temperature"
//	GET  /health   model readiness
//	GET  /metrics  prometheus metrics
package service

import (
	"context"
	_ "embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic/encoder"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/menta2k/image-captioner"
	"github.com/menta2k/image-captioner/internal/metrics"
	"github.com/menta2k/image-captioner/internal/utils"
	"github.com/menta2k/image-captioner/pkg/client"
	"github.com/menta2k/image-captioner/pkg/processing"
	"github.com/menta2k/image-captioner/pkg/types"
)

// DefaultShutdownTimeout bounds graceful shutdown in Serve.
const DefaultShutdownTimeout = 30 * time.Second

//go:embed static/index.html
var indexPage []byte

// Pipeline is the part of the captioner the service needs.
type Pipeline interface {
	Ready() bool
	ProcessImage(ctx context.Context, data []byte, gen types.GenerationConfig) (captioner.Result, error)
}

// Config holds the HTTP boundary settings.
type Config struct {
	MaxUploadBytes int64
	MinTemperature float64
	MaxTemperature float64
	// Generation supplies the max length and the default temperature.
	Generation types.GenerationConfig
	Queue      QueueConfig
}

// DefaultConfig mirrors the defaults in internal/config.
func DefaultConfig() Config {
	return Config{
		MaxUploadBytes: 16 << 20,
		MinTemperature: 0.1,
		MaxTemperature: 2.0,
		Generation:     types.DefaultGenerationConfig(),
		Queue: QueueConfig{
			MaxConcurrent:  4,
			MaxQueue:       32,
			RequestTimeout: 2 * time.Minute,
		},
	}
}

// UploadResponse is the body of a successful upload.
type UploadResponse struct {
	Success     bool    `json:"success"`
	Caption     string  `json:"caption"`
	Image       string  `json:"image"`
	Temperature float64 `json:"temperature"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded bool   `json:"models_loaded"`
	Timestamp    string `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server handles caption uploads.
type Server struct {
	cfg      Config
	pipeline Pipeline
	queue    *RequestQueue
	mux      *http.ServeMux
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Server over p.
func New(p Pipeline, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultConfig()
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = d.MaxUploadBytes
	}
	if cfg.MinTemperature <= 0 {
		cfg.MinTemperature = d.MinTemperature
	}
	if cfg.MaxTemperature < cfg.MinTemperature {
		cfg.MaxTemperature = d.MaxTemperature
	}
	if cfg.Generation.MaxLength <= 0 {
		cfg.Generation = d.Generation
	}

	s := &Server{
		cfg:      cfg,
		pipeline: p,
		queue:    NewRequestQueue(cfg.Queue, logger),
		mux:      http.NewServeMux(),
		logger:   logger,
		now:      time.Now,
	}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /upload", s.handleUpload)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Queue returns the admission queue
func (s *Server) Queue() *RequestQueue {
	return s.queue
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("Caption server starting", zap.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, starting graceful shutdown...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("Graceful shutdown failed, forcing close", zap.Error(err))
		_ = srv.Close()
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexPage)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := s.pipeline != nil && s.pipeline.Ready()
	resp := HealthResponse{
		Status:       "healthy",
		ModelsLoaded: ready,
		Timestamp:    s.now().Format(time.RFC3339),
	}
	if !ready {
		resp.Status = "unhealthy"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := s.logger.With(zap.String("request_id", uuid.NewString()))

	status := http.StatusOK
	defer func() { metrics.RecordUpload(strconv.Itoa(status)) }()
	fail := func(code int, msg string) {
		status = code
		writeError(w, code, msg)
	}

	if s.pipeline == nil || !s.pipeline.Ready() {
		fail(http.StatusServiceUnavailable, "Models not loaded")
		return
	}

	if r.ContentLength > s.cfg.MaxUploadBytes {
		fail(http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		fail(http.StatusBadRequest, "No file uploaded")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		// A part with an empty filename is parsed as a plain form value.
		if _, present := r.MultipartForm.Value["file"]; present {
			fail(http.StatusBadRequest, "No file selected")
			return
		}
		fail(http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		fail(http.StatusBadRequest, "No file selected")
		return
	}
	filename := utils.SanitizeFilename(header.Filename)
	if filename == "" {
		filename = "upload"
	}

	temperature, err := s.temperature(r.FormValue("temperature"))
	if err != nil {
		fail(http.StatusBadRequest, "Invalid temperature")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		fail(http.StatusBadRequest, "Could not read uploaded file")
		return
	}
	if len(data) == 0 {
		fail(http.StatusBadRequest, "Empty file")
		return
	}

	logger.Info("File uploaded",
		zap.String("filename", filename),
		zap.String("size", utils.FormatFileSize(int64(len(data)))),
		zap.Float64("temperature", temperature))

	release, err := s.queue.Acquire(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, ErrQueueFull):
			status = http.StatusServiceUnavailable
			writeQueueFull(w, 5*time.Second)
		case errors.Is(err, ErrRequestTimeout):
			status = http.StatusGatewayTimeout
			writeTimeout(w)
		default:
			// Client went away while queued.
			status = 499
		}
		return
	}
	defer release()

	ctx := r.Context()
	if s.cfg.Queue.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Queue.RequestTimeout)
		defer cancel()
	}

	gen := s.cfg.Generation
	gen.Temperature = temperature

	res, err := s.pipeline.ProcessImage(ctx, data, gen)
	if err != nil {
		logger.Error("Error processing file",
			zap.String("filename", filename),
			zap.Error(err))
		switch {
		case errors.Is(err, processing.ErrImageDecode):
			fail(http.StatusInternalServerError, "Error processing image")
		case errors.Is(err, client.ErrModelUnavailable):
			fail(http.StatusServiceUnavailable, "Models not loaded")
		default:
			fail(http.StatusInternalServerError, "Error processing file: "+err.Error())
		}
		return
	}
	if len(res.Image) == 0 {
		fail(http.StatusInternalServerError, "Error processing image")
		return
	}

	logger.Info("Caption generated",
		zap.String("filename", filename),
		zap.String("caption", res.Caption.Caption),
		zap.Stringer("stop", res.Caption.Stop),
		zap.Duration("elapsed", time.Since(start)))

	writeJSON(w, http.StatusOK, UploadResponse{
		Success:     true,
		Caption:     res.Caption.Caption,
		Image:       base64.StdEncoding.EncodeToString(res.Image),
		Temperature: temperature,
	})
}

// temperature parses the form value and clamps it to the configured range.
// An absent value means the configured default.
func (s *Server) temperature(raw string) (float64, error) {
	t := s.cfg.Generation.Temperature
	if raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("temperature %q is not finite", raw)
		}
		t = v
	}
	return math.Max(s.cfg.MinTemperature, math.Min(s.cfg.MaxTemperature, t)), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = encoder.NewStreamEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
