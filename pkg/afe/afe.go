// Package afe defines the acoustic front end contract used by the capture
// loop and the session state machine, plus two engines: a pure-Go energy
// based engine and a scripted engine for tests.
//
// A front end consumes raw microphone frames through Feed and produces
// processed frames through Fetch. Each fetched frame carries the VAD
// decision, a wake word flag and, on the silence to speech edge, a pre-roll
// cache of audio that preceded the detection. A separate command matcher is
// driven through Detect while the session confirms a spoken command.
package afe

// VADState is the voice activity decision for one fetched frame.
type VADState int

const (
	// Silence means no speech was detected in the frame.
	Silence VADState = iota
	// Speech means the frame contains speech.
	Speech
)

func (s VADState) String() string {
	if s == Speech {
		return "speech"
	}
	return "silence"
}

// DetectState is the outcome of feeding one frame to the command matcher.
type DetectState int

const (
	// NoMatch means the matcher is still listening.
	NoMatch DetectState = iota
	// Detected means a command matched; ids are available from Results.
	Detected
	// Timeout means the matcher gave up waiting for a command.
	Timeout
)

func (s DetectState) String() string {
	switch s {
	case Detected:
		return "detected"
	case Timeout:
		return "timeout"
	default:
		return "no_match"
	}
}

// FetchResult is one processed frame.
//
// A result returned by Fetch is borrowed: its slices may be reused by the
// engine on the next Fetch. Use Copy before handing it to another goroutine.
type FetchResult struct {
	WakeDetected bool
	VAD          VADState
	Data         []int16
	// Cache is the pre-roll audio captured before speech onset. It is only
	// set on the frame where VAD switches to Speech.
	Cache []int16
	OK    bool
}

// Copy returns a deep copy that owns its buffers.
func (r *FetchResult) Copy() *FetchResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Data != nil {
		out.Data = append([]int16(nil), r.Data...)
	}
	if r.Cache != nil {
		out.Cache = append([]int16(nil), r.Cache...)
	}
	return &out
}

// FrontEnd is the acoustic front end capability.
type FrontEnd interface {
	// FeedChunkSize is the number of samples per channel per Feed call.
	FeedChunkSize() int
	// FeedChannels is the number of interleaved channels Feed expects.
	FeedChannels() int
	// FetchChunkSize is the number of samples in each fetched frame.
	FetchChunkSize() int
	// SampleRate is the engine sample rate in Hz.
	SampleRate() int

	// Feed pushes interleaved PCM16 samples into the engine.
	Feed(samples []int16) error
	// Fetch returns the next processed frame. A nil or not OK result is
	// reported as ErrTransient.
	Fetch() (*FetchResult, error)

	EnableWakeNet() error
	DisableWakeNet() error

	// Detect runs the command matcher over one fetched frame.
	Detect(frame []int16) (DetectState, error)
	// Results returns the ids matched by the last Detected outcome.
	Results() ([]int, error)
	// Clean resets the command matcher.
	Clean() error

	Close() error
}
