// Command voicebox runs the wake-word voice assistant pipeline: microphone
// capture, the session state machine, WAV recording and the transcription,
// LLM and speech worker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicebox/internal/config"
	"github.com/teslashibe/go-voicebox/internal/log"

	// Registers the rtp speaker backend.
	_ "github.com/teslashibe/go-voicebox/pkg/audioio/rtp"
)

// version is set at build time.
var version = "dev"

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "voicebox",
		Short:         "Wake-word voice assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(flags),
		newChunksCmd(flags),
		newTranscribeCmd(flags),
		newVersionCmd(),
	)
	return root
}

// load reads the config and initializes logging. --log-level wins over the
// file and environment.
func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Init(cfg.LogLevel)
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "voicebox", version)
		},
	}
}
