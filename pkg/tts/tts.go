// Package tts turns assistant replies into speech.
//
// A Provider turns one short piece of text into PCM16 audio. OpenAI and
// ElevenLabs are the real providers; Chain puts one in front of the other.
// Player sits on top: it splits a reply into chunks, streams each one from
// the provider and writes it to an audioio.Sink.
//
//	provider, _ := tts.NewOpenAI(
//	    tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    tts.WithVoice(tts.VoiceAlloy),
//	)
//	player := tts.NewPlayer(provider, sink)
//	player.Speak(ctx, "你好，乐鑫")
package tts

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Provider synthesizes speech for one chunk of a reply.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// Synthesize returns the whole utterance at once.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Stream returns audio as the provider produces it. Player uses this.
	Stream(ctx context.Context, text string) (AudioStream, error)

	// Health checks that the provider is reachable with the configured key.
	Health(ctx context.Context) error

	Close() error
}

// AudioStream yields PCM16 audio for one utterance. Read returns nil, nil
// once the utterance is complete.
type AudioStream interface {
	Read() ([]byte, error)
	Close() error
	Format() AudioFormat
}

// AudioResult is a fully synthesized utterance.
type AudioResult struct {
	Audio     []byte
	Format    AudioFormat
	Duration  time.Duration
	CharCount int

	// LatencyMs is the time to the first audio byte.
	LatencyMs int64
}

// AudioFormat describes mono PCM16 audio coming out of a provider.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Encoding names a PCM16 output format in the "pcm_<rate>" form ElevenLabs
// uses for its output_format parameter.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"
)

// SampleRate parses the rate out of the encoding name. Unknown encodings
// report the microphone rate of 16kHz.
func (e Encoding) SampleRate() int {
	if rate, ok := strings.CutPrefix(string(e), "pcm_"); ok {
		if n, err := strconv.Atoi(rate); err == nil && n > 0 {
			return n
		}
	}
	return 16000
}

// durationOf is the playback time of n bytes of mono PCM16 at rate.
func durationOf(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(rate)
}

// collect reads a whole utterance from p.Stream.
func collect(ctx context.Context, p Provider, text string) (*AudioResult, error) {
	start := time.Now()
	stream, err := p.Stream(ctx, text)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	res := &AudioResult{Format: stream.Format(), CharCount: utf8.RuneCountInString(text)}
	for {
		chunk, err := stream.Read()
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			break
		}
		if res.LatencyMs == 0 {
			res.LatencyMs = max(time.Since(start).Milliseconds(), 1)
		}
		res.Audio = append(res.Audio, chunk...)
	}
	res.Duration = durationOf(len(res.Audio), res.Format.SampleRate)
	return res, nil
}
