package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-voicebox/internal/config"
	"github.com/teslashibe/go-voicebox/internal/log"
	"github.com/teslashibe/go-voicebox/pkg/afe"
	"github.com/teslashibe/go-voicebox/pkg/audioio"
	"github.com/teslashibe/go-voicebox/pkg/capture"
	"github.com/teslashibe/go-voicebox/pkg/conversation"
	"github.com/teslashibe/go-voicebox/pkg/dispatch"
	"github.com/teslashibe/go-voicebox/pkg/hub"
	"github.com/teslashibe/go-voicebox/pkg/metrics"
	"github.com/teslashibe/go-voicebox/pkg/recorder"
	"github.com/teslashibe/go-voicebox/pkg/session"
	"github.com/teslashibe/go-voicebox/pkg/tts"
	"github.com/teslashibe/go-voicebox/pkg/web"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the capture, session and conversation pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := log.L()
	m := metrics.New(metrics.DefaultNamespace)
	events := hub.New("events", hub.DefaultBacklog, logger)
	bus := dispatch.NewBus()
	defer bus.Close()

	// Devices
	src, err := audioio.NewSource(audioConfig(cfg.Audio.Input), logger)
	if err != nil {
		return fmt.Errorf("microphone: %w", err)
	}
	defer src.Close()
	sink, err := audioio.NewSink(audioConfig(cfg.Audio.Output), logger)
	if err != nil {
		return fmt.Errorf("speaker: %w", err)
	}
	defer sink.Close()

	if err := src.Start(ctx); err != nil {
		return fmt.Errorf("%w: start microphone: %w", capture.ErrHardwareIO, err)
	}
	defer src.Stop()
	if err := sink.Start(ctx); err != nil {
		return fmt.Errorf("start speaker: %w", err)
	}
	defer sink.Stop()

	// Capture side
	fe, err := afe.NewEnergy(
		afe.WithSampleRate(cfg.Audio.Input.SampleRate),
		afe.WithFeedChannels(cfg.Audio.Input.Channels),
		afe.WithVADThresholds(cfg.FrontEnd.SpeechThreshold, cfg.FrontEnd.SilenceThreshold),
		afe.WithPreRoll(cfg.FrontEnd.PreRoll),
		afe.WithCommandTimeout(cfg.FrontEnd.CommandTimeout),
		afe.WithWakeOnSpeech(cfg.FrontEnd.WakeOnSpeech),
		afe.WithCommandOnSpeech(cfg.FrontEnd.CommandOnSpeech),
		afe.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("front end: %w", err)
	}
	defer fe.Close()

	loop := capture.New(src, fe, logger)

	rec, err := recorder.New(
		recorder.WithDir(cfg.Recorder.Dir),
		recorder.WithMountPoint(cfg.Recorder.MountPoint),
		recorder.WithSampleRate(cfg.Audio.Input.SampleRate),
		recorder.WithResume(cfg.Recorder.Resume),
		recorder.WithKeepDiscarded(cfg.Recorder.KeepDiscarded),
		recorder.WithFlushFailureHook(func(err error) {
			m.RecordFlushFailure()
			events.Publish(hub.EventFlushFailed, err.Error())
		}),
		recorder.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}

	machine, err := session.New(fe, rec, bus,
		session.WithSilenceSeconds(cfg.Session.SilenceSeconds),
		session.WithExitPhrase(cfg.Conversation.ExitPhrase),
		session.WithSkipCommandConfirm(cfg.Session.SkipCommandConfirm),
		session.WithContinuous(cfg.Session.Continuous),
		session.WithHooks(sessionHooks(m, events, cfg.Audio.Input.SampleRate)),
		session.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	// Conversation side
	tr, err := newTranscriber(ctx, cfg.Transcribe, logger)
	if err != nil {
		return fmt.Errorf("transcriber: %w", err)
	}
	llm, err := newLLM(cfg.LLM, logger)
	if err != nil {
		return err
	}
	speech, err := newSpeech(cfg.TTS, logger)
	if err != nil {
		return fmt.Errorf("tts: %w", err)
	}
	defer speech.Close()

	player := tts.NewPlayer(speech, sink,
		tts.WithMaxChunkChars(cfg.TTS.MaxChunkChars),
		tts.WithChunkDelay(cfg.TTS.ChunkDelay),
		tts.WithChunkErrorHook(func(index int, chunk string, err error) {
			m.RecordChunkError()
		}),
		tts.WithPlayerLogger(logger),
	)

	worker, err := conversation.New(bus, tr, llm, player,
		conversation.WithSystemPrompt(cfg.LLM.SystemPrompt),
		conversation.WithGreeting(cfg.Conversation.Greeting),
		conversation.WithExitPhrase(cfg.Conversation.ExitPhrase),
		conversation.WithGoodbye(cfg.Conversation.Goodbye),
		conversation.WithSampling(cfg.LLM.MaxTokens, cfg.LLM.Temperature, cfg.LLM.TopP),
		conversation.WithHistorySize(cfg.Conversation.HistorySize),
		conversation.WithHooks(workerHooks(events)),
		conversation.WithMetrics(m),
		conversation.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("conversation: %w", err)
	}

	logger.Info("voicebox starting",
		"version", version,
		"microphone", src.Name(),
		"speaker", sink.Name(),
		"transcriber", tr.Name(),
		"tts", cfg.TTS.Provider,
		"recordings", cfg.Recorder.Dir,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		events.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		err := machine.Run(gctx)
		if sendErr := bus.Control.Send(dispatch.NewShutdown()); sendErr != nil && !errors.Is(sendErr, dispatch.ErrClosed) {
			logger.Warn("shutdown not delivered", "error", sendErr)
		}
		return err
	})
	g.Go(func() error {
		return worker.Run(gctx)
	})

	if cfg.Web.Enabled {
		srv := web.NewServer(
			web.WithAddr(cfg.Web.Addr),
			web.WithSources(web.Sources{
				Session:  machine.Stats,
				Recorder: rec.Stats,
				Capture:  loop.Stats,
			}),
			web.WithConversation(worker),
			web.WithTrigger(fe),
			web.WithBus(bus),
			web.WithEvents(events),
			web.WithMetrics(m),
			web.WithLogger(logger),
		)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("voicebox stopped", "error", err)
		return err
	}
	logger.Info("voicebox stopped")
	return nil
}

func sessionHooks(m *metrics.Metrics, events *hub.Hub, sampleRate int) session.Hooks {
	return session.Hooks{
		OnStateChange: func(from, to session.State, reason string) {
			m.RecordTransition(from.String(), to.String())
			switch {
			case from == session.WakeWordDetecting && to != session.WakeWordDetecting:
				m.RecordWake()
			case from == session.CommandConfirming && to == session.WakeWordDetecting && reason == "command timeout":
				m.RecordCommandTimeout()
			case from == session.Recording && to == session.WakeWordDetecting && reason == "exit phrase":
				m.RecordExit()
			}
			events.Publish(hub.EventState, fields{"from": from.String(), "to": to.String(), "reason": reason})
		},
		OnRecordingStarted: func(index int, path string) {
			events.Publish(hub.EventRecording, fields{"index": index, "path": path})
		},
		OnRecordingDispatched: func(index int, path string, samples int64) {
			m.RecordDispatch(samples, sampleRate)
			events.Publish(hub.EventDispatched, fields{"index": index, "path": path, "samples": samples})
		},
		OnRecordingDiscarded: func(index int, path string, samples int64, reason string) {
			m.RecordDiscard(reason)
			events.Publish(hub.EventDiscarded, fields{"index": index, "path": path, "reason": reason})
		},
		OnResponse: func(resp string, state session.State) {
			if state != session.Recording {
				m.RecordDroppedResponse()
			}
		},
		OnTransientError: func(err error) {
			m.RecordTransientError()
		},
		OnStorageError: func(err error) {
			m.RecordStorageError()
			events.Publish(hub.EventError, fields{"stage": "storage", "error": err.Error()})
		},
	}
}

func workerHooks(events *hub.Hub) conversation.Hooks {
	return conversation.Hooks{
		OnTranscript: func(turnID, text string) {
			events.Publish(hub.EventTranscript, fields{"turn_id": turnID, "text": text})
		},
		OnReply: func(turnID, text string) {
			events.Publish(hub.EventReply, fields{"turn_id": turnID, "text": text})
		},
		OnError: func(turnID string, stage conversation.Stage, err error) {
			events.Publish(hub.EventError, fields{"turn_id": turnID, "stage": string(stage), "error": err.Error()})
		},
		OnTurnComplete: func(turn conversation.Turn) {
			events.Publish(hub.EventTurn, turn)
		},
		OnSpeaking: func(active bool) {
			events.Publish(hub.EventSpeaking, active)
		},
	}
}

// fields is an event payload.
type fields = map[string]any
