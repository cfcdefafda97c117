package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"sort"
	"sync"
)

// SinkFactory builds a Sink for a registered backend.
type SinkFactory func(cfg Config, logger *slog.Logger) (Sink, error)

var (
	registryMu sync.RWMutex
	sinks      = map[Backend]SinkFactory{}
)

// RegisterSink makes a sink backend available to NewSink. Backends living
// in their own package call this from init.
func RegisterSink(backend Backend, fn SinkFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	sinks[backend] = fn
}

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"device", cfg.Device,
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendExec:
		return NewExecSource(cfg, logger), nil
	}
	return nil, fmt.Errorf("unsupported source backend: %s", backend)
}

// NewSink creates a new audio sink with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"device", cfg.Device,
		"address", cfg.Address,
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendExec:
		return NewExecSink(cfg, logger), nil
	}

	registryMu.RLock()
	fn, ok := sinks[backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported sink backend: %s", backend)
	}
	return fn(cfg, logger)
}

// detectBestBackend returns the best available backend for the current platform.
func detectBestBackend() Backend {
	if runtime.GOOS == "linux" && haveALSAUtils() {
		return BackendExec
	}
	return BackendMock
}

func haveALSAUtils() bool {
	if _, err := exec.LookPath(arecordBin); err != nil {
		return false
	}
	_, err := exec.LookPath(aplayBin)
	return err == nil
}

// AvailableBackends returns the list of backends available on this platform,
// including registered sinks.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if runtime.GOOS == "linux" && haveALSAUtils() {
		backends = append(backends, BackendExec)
	}

	registryMu.RLock()
	for b := range sinks {
		backends = append(backends, b)
	}
	registryMu.RUnlock()

	sort.Slice(backends[1:], func(i, j int) bool { return backends[i+1] < backends[j+1] })
	return backends
}
