package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// TranscriberConfig configures an OpenAI-compatible audio/transcriptions endpoint.
type TranscriberConfig struct {
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
	Retry   kberrors.RetryConfig
	Client  *http.Client
	Logger  *slog.Logger
}

// Transcriber turns audio files into text through a speech-to-text service.
type Transcriber struct {
	cfg    TranscriberConfig
	client *http.Client
	logger *slog.Logger
}

// NewTranscriber creates a transcription loader.
func NewTranscriber(cfg TranscriberConfig) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = kberrors.DefaultRetryConfig()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcriber{cfg: cfg, client: client, logger: logger}
}

// Load uploads the file and returns the transcript.
func (t *Transcriber) Load(ctx context.Context, path string) (string, error) {
	if t.cfg.URL == "" {
		return "", kberrors.New(kberrors.ErrCodeExtractionFailed, "transcription url is not configured", nil).
			WithDetail("path", path).
			WithSuggestion("Set transcription.url or KBINDEX_TRANSCRIPTION__URL")
	}

	audio, err := os.ReadFile(path)
	if err != nil {
		return "", kberrors.ExtractionError(path, err)
	}

	start := time.Now()
	text, err := kberrors.RetryWithResult(ctx, t.cfg.Retry, func() (string, error) {
		return t.transcribe(ctx, filepath.Base(path), audio)
	})
	if err != nil {
		return "", kberrors.ExtractionError(path, err)
	}

	t.logger.Debug("Transcription completed",
		slog.String("file", filepath.Base(path)),
		slog.Int("chars", len(text)),
		slog.Duration("took", time.Since(start)))
	return text, nil
}

func (t *Transcriber) transcribe(ctx context.Context, name string, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", t.cfg.Model); err != nil {
		return "", err
	}
	if err := mw.WriteField("response_format", "text"); err != nil {
		return "", err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, t.cfg.URL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if t.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", kberrors.New(kberrors.ErrCodeExtractionFailed, "transcription request failed", err).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", kberrors.New(kberrors.ErrCodeExtractionFailed, "read transcription response", err).
			WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		return "", kberrors.New(kberrors.ErrCodeExtractionFailed,
			fmt.Sprintf("transcription returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}
	return strings.TrimSpace(string(data)), nil
}
