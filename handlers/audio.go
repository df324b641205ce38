package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"mentorbot/config"
)

// AudioHandler stores synthesized audio on disk and serves it back over HTTP
// so summary posts can link to it.
type AudioHandler struct {
	cfg    config.Config
	logger *slog.Logger
}

func NewAudioHandler(cfg config.Config, logger *slog.Logger) *AudioHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioHandler{cfg: cfg, logger: logger.With("component", "audio")}
}

// Save writes a WAV payload under the audio directory and returns the
// request path it will be served from.
func (h *AudioHandler) Save(data []byte) (string, error) {
	if err := os.MkdirAll(h.cfg.AudioDir, 0o755); err != nil {
		return "", fmt.Errorf("creating audio dir: %w", err)
	}

	name := uuid.New().String() + ".wav"
	path := filepath.Join(h.cfg.AudioDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing audio file: %w", err)
	}

	h.logger.Info("audio saved", "file", name, "bytes", len(data))
	return "/api/audio/" + name, nil
}

// Serve handles GET /api/audio/{filename}.
func (h *AudioHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	// Reject anything that could escape the audio directory.
	if filename == "" || strings.Contains(filename, "..") || strings.ContainsAny(filename, "/\\") {
		jsonError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	path := filepath.Join(h.cfg.AudioDir, filename)
	if _, err := os.Stat(path); err != nil {
		jsonError(w, http.StatusNotFound, "audio not found")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}
