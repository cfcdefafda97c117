package transcribe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"

	"github.com/teslashibe/go-voicebox/pkg/audioio"
)

const providerGoogle = "google"

// GoogleConfig holds Google Speech-to-Text configuration.
type GoogleConfig struct {
	Language        string
	APIKey          string
	CredentialsFile string
	TokenSource     oauth2.TokenSource
	Endpoint        string
	HTTPClient      *http.Client
	Timeout         time.Duration
	Logger          *slog.Logger
}

// GoogleOption is a functional option for the Google provider.
type GoogleOption func(*GoogleConfig)

// WithLanguage sets the BCP-47 recognition language.
func WithLanguage(lang string) GoogleOption {
	return func(c *GoogleConfig) { c.Language = lang }
}

// WithAPIKey authenticates with an API key instead of OAuth2.
func WithAPIKey(key string) GoogleOption {
	return func(c *GoogleConfig) { c.APIKey = key }
}

// WithCredentialsFile loads service account credentials from path.
func WithCredentialsFile(path string) GoogleOption {
	return func(c *GoogleConfig) { c.CredentialsFile = path }
}

// WithTokenSource authenticates with ts.
func WithTokenSource(ts oauth2.TokenSource) GoogleOption {
	return func(c *GoogleConfig) { c.TokenSource = ts }
}

// WithEndpoint overrides the API endpoint.
func WithEndpoint(url string) GoogleOption {
	return func(c *GoogleConfig) { c.Endpoint = url }
}

// WithHTTPClient uses client as is, skipping authentication.
func WithHTTPClient(client *http.Client) GoogleOption {
	return func(c *GoogleConfig) { c.HTTPClient = client }
}

// WithGoogleLogger sets the structured logger.
func WithGoogleLogger(l *slog.Logger) GoogleOption {
	return func(c *GoogleConfig) { c.Logger = l }
}

// Google transcribes with Cloud Speech-to-Text v1 synchronous recognition.
type Google struct {
	config  *GoogleConfig
	service *speech.Service
	logger  *slog.Logger
}

// NewGoogle creates a Google provider. Credentials are taken, in order,
// from an explicit HTTP client, an API key, a token source, a credentials
// file, and finally Application Default Credentials.
func NewGoogle(ctx context.Context, opts ...GoogleOption) (*Google, error) {
	cfg := &GoogleConfig{
		Language: "zh-CN",
		Timeout:  DefaultTimeout,
		Logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clientOpts, err := googleClientOptions(ctx, cfg)
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	svc, err := speech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		config:  cfg,
		service: svc,
		logger:  cfg.Logger.With("component", "transcribe.google"),
	}, nil
}

func googleClientOptions(ctx context.Context, cfg *GoogleConfig) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case cfg.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, speech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(creds.TokenSource))
	default:
		creds, err := google.FindDefaultCredentials(ctx, speech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoCredentials, err)
		}
		opts = append(opts, option.WithTokenSource(creds.TokenSource))
	}
	return opts, nil
}

// Name returns "google".
func (g *Google) Name() string { return providerGoogle }

// Transcribe sends the recording's PCM as LINEAR16 and joins the top
// alternative of every result.
func (g *Google) Transcribe(ctx context.Context, path string) (string, error) {
	start := time.Now()

	pcm, rate, err := readPCM(path)
	if err != nil {
		return "", WrapError(providerGoogle, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	resp, err := g.service.Speech.Recognize(&speech.RecognizeRequest{
		Config: &speech.RecognitionConfig{
			Encoding:        "LINEAR16",
			SampleRateHertz: int64(rate),
			LanguageCode:    g.config.Language,
		},
		Audio: &speech.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(pcm),
		},
	}).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return "", &APIError{StatusCode: gerr.Code, Message: gerr.Message, Provider: providerGoogle}
		}
		return "", WrapError(providerGoogle, err)
	}

	var parts []string
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		parts = append(parts, result.Alternatives[0].Transcript)
	}
	text := strings.TrimSpace(strings.Join(parts, ""))

	g.logger.Debug("transcribed",
		"path", path,
		"results", len(resp.Results),
		"latency_ms", time.Since(start).Milliseconds(),
		"text", text,
	)
	return text, nil
}

// readPCM decodes a WAV file into little-endian PCM16 bytes.
func readPCM(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode recording: %w", err)
	}
	if len(buf.Data) == 0 {
		return nil, 0, ErrEmptyAudio
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return audioio.SamplesToBytes(samples), buf.Format.SampleRate, nil
}

// Verify Google implements Provider at compile time.
var _ Provider = (*Google)(nil)
