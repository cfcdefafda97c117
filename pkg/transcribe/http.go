package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-voicebox/internal/httpc"
)

const providerHTTP = "http"

// DefaultTimeout bounds one transcription request.
const DefaultTimeout = 30 * time.Second

// HTTPConfig holds HTTP provider configuration.
type HTTPConfig struct {
	URL       string
	FieldName string
	Timeout   time.Duration
	Logger    *slog.Logger
}

// HTTPOption is a functional option for the HTTP provider.
type HTTPOption func(*HTTPConfig)

// WithURL sets the transcription endpoint.
func WithURL(url string) HTTPOption {
	return func(c *HTTPConfig) { c.URL = url }
}

// WithFieldName sets the multipart field carrying the file.
func WithFieldName(name string) HTTPOption {
	return func(c *HTTPConfig) { c.FieldName = name }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPConfig) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(c *HTTPConfig) { c.Logger = l }
}

// HTTP posts recordings to a transcription server and reads back the text.
type HTTP struct {
	config *HTTPConfig
	http   *http.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTP provider.
func NewHTTP(opts ...HTTPOption) (*HTTP, error) {
	cfg := &HTTPConfig{
		FieldName: "file",
		Timeout:   DefaultTimeout,
		Logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &HTTP{
		config: cfg,
		http:   httpc.NewClient(cfg.Timeout),
		logger: cfg.Logger.With("component", "transcribe.http"),
	}, nil
}

// Name returns "http".
func (h *HTTP) Name() string { return providerHTTP }

// Transcribe uploads the file at path.
func (h *HTTP) Transcribe(ctx context.Context, path string) (string, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return "", WrapError(providerHTTP, fmt.Errorf("read recording: %w", err))
	}

	body, contentType, err := multipartBody(h.config.FieldName, filepath.Base(path), data)
	if err != nil {
		return "", WrapError(providerHTTP, fmt.Errorf("build form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, body)
	if err != nil {
		return "", WrapError(providerHTTP, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.http.Do(req)
	if err != nil {
		return "", WrapError(providerHTTP, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", WrapError(providerHTTP, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(raw),
			Provider:   providerHTTP,
		}
	}

	text := CleanTranscript(string(raw))
	h.logger.Debug("transcribed",
		"path", path,
		"bytes", len(data),
		"latency_ms", time.Since(start).Milliseconds(),
		"text", text,
	)
	return text, nil
}

func multipartBody(field, filename string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", "audio/wav")

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Verify HTTP implements Provider at compile time.
var _ Provider = (*HTTP)(nil)
