package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voicebox/internal/httpc"
)

const (
	openAITTSURL   = "https://api.openai.com/v1/audio/speech"
	providerOpenAI = "openai"

	// openAIRate is the fixed rate of OpenAI's raw pcm output.
	openAIRate = 24000

	// streamChunkBytes is 100ms of 24kHz PCM16.
	streamChunkBytes = 4800
)

// OpenAI voice options
const (
	VoiceAlloy   = "alloy"   // Neutral voice
	VoiceEcho    = "echo"    // Male voice
	VoiceFable   = "fable"   // British accent
	VoiceOnyx    = "onyx"    // Deep male voice
	VoiceNova    = "nova"    // Female voice
	VoiceShimmer = "shimmer" // Soft female voice
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"    // Standard quality, faster
	ModelTTS1HD = "tts-1-hd" // Higher quality, slower
)

// OpenAI implements Provider for the OpenAI speech endpoint. Audio is
// requested as raw 24kHz PCM16 so it can be played without decoding.
type OpenAI struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

type speechRequest struct {
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	Input          string  `json:"input"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.ModelID = ModelTTS1
	cfg.VoiceID = VoiceAlloy
	cfg.OutputFormat = EncodingPCM24
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceAlloy
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAITTSURL
	}

	return &OpenAI{
		config:  cfg,
		client:  httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "tts.openai"),
		baseURL: baseURL,
	}, nil
}

// Synthesize streams text and collects the whole utterance.
func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	return collect(ctx, o, text)
}

// Name returns "openai".
func (o *OpenAI) Name() string {
	return providerOpenAI
}

// Stream starts synthesis and returns as soon as the response headers
// arrive. Audio is read from the body as the server produces it.
func (o *OpenAI) Stream(ctx context.Context, text string) (AudioStream, error) {
	start := time.Now()

	body, err := json.Marshal(speechRequest{
		Model:          o.config.ModelID,
		Voice:          o.config.VoiceID,
		Input:          text,
		ResponseFormat: "pcm",
		Speed:          o.config.Speed,
	})
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerOpenAI, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.doWithRetry(ctx, req, body)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("stream started",
		"chars", len([]rune(text)),
		"latency_ms", time.Since(start).Milliseconds(),
		"voice", o.config.VoiceID,
	)

	return &pcmStream{
		body:   resp.Body,
		format: o.outputFormat(),
		buf:    make([]byte, streamChunkBytes),
	}, nil
}

// Health checks API connectivity.
func (o *OpenAI) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.modelsURL(), nil)
	if err != nil {
		return WrapError(providerOpenAI, err)
	}
	req.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return WrapError(providerOpenAI, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return o.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

// VoiceID returns the configured voice.
func (o *OpenAI) VoiceID() string {
	return o.config.VoiceID
}

func (o *OpenAI) modelsURL() string {
	if i := strings.Index(o.baseURL, "/audio/speech"); i >= 0 {
		return o.baseURL[:i] + "/models"
	}
	return "https://api.openai.com/v1/models"
}

// doWithRetry performs the request with retry logic. A 200 response is
// returned with its body open.
func (o *OpenAI) doWithRetry(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(o.config.RetryDelay * time.Duration(attempt)):
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := o.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = WrapError(providerOpenAI, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := o.parseError(resp)
		resp.Body.Close()
		if !apiErr.IsRetryable() {
			return nil, apiErr
		}
		lastErr = apiErr
		o.logger.Warn("retrying request",
			"attempt", attempt+1,
			"status", resp.StatusCode,
		)
	}

	return nil, lastErr
}

// parseError reads and parses an error response.
func (o *OpenAI) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Code
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerOpenAI,
	}
}

func (o *OpenAI) outputFormat() AudioFormat {
	return AudioFormat{
		Encoding:   EncodingPCM24,
		SampleRate: openAIRate,
		Channels:   1,
	}
}

// pcmStream reads PCM16 from an HTTP body in sample-aligned chunks.
type pcmStream struct {
	mu     sync.Mutex
	body   io.ReadCloser
	format AudioFormat
	buf    []byte
	carry  []byte
	done   bool
	closed atomic.Bool
}

// Read returns the next chunk, or nil once the body is exhausted.
func (s *pcmStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrStreamClosed
	}
	if s.done {
		return nil, nil
	}

	for {
		n, err := io.ReadFull(s.body, s.buf)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.done = true
		} else if err != nil {
			if s.closed.Load() {
				return nil, ErrStreamClosed
			}
			return nil, WrapError(providerOpenAI, fmt.Errorf("read stream: %w", err))
		}

		chunk := append(s.carry, s.buf[:n]...)
		s.carry = nil
		if len(chunk)%2 != 0 {
			if !s.done {
				s.carry = []byte{chunk[len(chunk)-1]}
			}
			chunk = chunk[:len(chunk)-1]
		}
		if len(chunk) > 0 {
			return chunk, nil
		}
		if s.done {
			return nil, nil
		}
	}
}

// Close releases the HTTP body, unblocking a pending Read.
func (s *pcmStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.body.Close()
}

// Format returns the audio format.
func (s *pcmStream) Format() AudioFormat {
	return s.format
}

var _ Provider = (*OpenAI)(nil)
