package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	elevenLabsWSBaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"
	providerElevenLabs  = "elevenlabs"
	handshakeTimeout    = 10 * time.Second
)

// ElevenLabs synthesizes speech over the stream-input websocket. Each
// utterance gets its own connection: BOS, the text, then EOS, and audio
// is read back until the server marks the final chunk.
type ElevenLabs struct {
	config  *Config
	logger  *slog.Logger
	dialer  *websocket.Dialer
	baseURL string
}

type wsMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        map[string]any `json:"voice_settings,omitempty"`
	GenerationConfig     map[string]any `json:"generation_config,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

type wsResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
}

// NewElevenLabs creates a websocket ElevenLabs provider. A voice ID is
// required.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.VoiceID == "" {
		return nil, ErrNoVoiceID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsWSBaseURL
	}

	return &ElevenLabs{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.elevenlabs"),
		dialer:  &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Stream opens a connection, sends text and returns the audio stream.
func (e *ElevenLabs) Stream(ctx context.Context, text string) (AudioStream, error) {
	start := time.Now()

	conn, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}

	msgs := []wsMessage{
		e.beginMessage(),
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, m := range msgs {
		if err := conn.WriteJSON(m); err != nil {
			conn.Close()
			return nil, WrapError(providerElevenLabs, fmt.Errorf("send text: %w", err))
		}
	}

	e.logger.Debug("stream started",
		"chars", len([]rune(text)),
		"latency_ms", time.Since(start).Milliseconds(),
		"voice", e.config.VoiceID,
	)

	s := &wsStream{
		conn:   conn,
		ctx:    ctx,
		format: e.outputFormat(),
	}
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return s, nil
}

// Synthesize streams text and collects the whole utterance.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	return collect(ctx, e, text)
}

// Name returns "elevenlabs".
func (e *ElevenLabs) Name() string {
	return providerElevenLabs
}

// Health dials the endpoint and closes the connection again.
func (e *ElevenLabs) Health(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close is a no-op; connections live for one utterance.
func (e *ElevenLabs) Close() error {
	return nil
}

// VoiceID returns the configured voice ID.
func (e *ElevenLabs) VoiceID() string {
	return e.config.VoiceID
}

// ModelID returns the configured model ID.
func (e *ElevenLabs) ModelID() string {
	return e.config.ModelID
}

func (e *ElevenLabs) dial(ctx context.Context) (*websocket.Conn, error) {
	q := url.Values{}
	q.Set("model_id", e.config.ModelID)
	q.Set("output_format", e.encodingToAPIFormat())
	endpoint := fmt.Sprintf("%s/%s/stream-input?%s", e.baseURL, url.PathEscape(e.config.VoiceID), q.Encode())

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    err.Error(),
				Provider:   providerElevenLabs,
			}
		}
		return nil, WrapError(providerElevenLabs, fmt.Errorf("dial: %w", err))
	}
	return conn, nil
}

func (e *ElevenLabs) beginMessage() wsMessage {
	vs := e.config.VoiceSettings
	settings := map[string]any{
		"stability":         vs.Stability,
		"similarity_boost":  vs.SimilarityBoost,
		"style":             vs.Style,
		"use_speaker_boost": vs.SpeakerBoost,
	}
	if e.config.Speed != 0 && e.config.Speed != 1.0 {
		settings["speed"] = e.config.Speed
	}
	return wsMessage{
		Text:          " ",
		VoiceSettings: settings,
		GenerationConfig: map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}
}

func (e *ElevenLabs) outputFormat() AudioFormat {
	enc := Encoding(e.encodingToAPIFormat())
	return AudioFormat{
		Encoding:   enc,
		SampleRate: enc.SampleRate(),
		Channels:   1,
	}
}

// encodingToAPIFormat maps the configured encoding to a PCM output_format.
func (e *ElevenLabs) encodingToAPIFormat() string {
	switch e.config.OutputFormat {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return string(e.config.OutputFormat)
	default:
		return string(EncodingPCM16)
	}
}

// wsStream reads audio messages from one stream-input connection.
type wsStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	stop   func() bool
	format AudioFormat

	mu     sync.Mutex
	done   bool
	closed atomic.Bool
}

// Read returns the next decoded audio chunk, or nil after the final one.
func (s *wsStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrStreamClosed
	}
	for !s.done {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.done = true
			if s.closed.Load() {
				return nil, ErrStreamClosed
			}
			if s.ctx.Err() != nil {
				return nil, s.ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, nil
			}
			return nil, WrapError(providerElevenLabs, fmt.Errorf("read: %w", err))
		}

		var resp wsResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, WrapError(providerElevenLabs, fmt.Errorf("decode message: %w", err))
		}
		if resp.Error != "" {
			s.done = true
			msg := resp.Message
			if msg == "" {
				msg = resp.Error
			}
			return nil, &APIError{StatusCode: resp.Code, Code: resp.Error, Message: msg, Provider: providerElevenLabs}
		}
		if resp.IsFinal {
			s.done = true
		}
		if resp.Audio == "" {
			continue
		}

		audio, err := base64.StdEncoding.DecodeString(resp.Audio)
		if err != nil {
			return nil, WrapError(providerElevenLabs, fmt.Errorf("decode audio: %w", err))
		}
		return audio, nil
	}
	return nil, nil
}

// Close sends a close frame and drops the connection, unblocking a
// pending Read.
func (s *wsStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.stop()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// Format returns the audio format.
func (s *wsStream) Format() AudioFormat {
	return s.format
}

// Verify ElevenLabs implements Provider at compile time.
var _ Provider = (*ElevenLabs)(nil)
