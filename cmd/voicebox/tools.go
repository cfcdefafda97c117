package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicebox/internal/log"
	"github.com/teslashibe/go-voicebox/pkg/tts"
)

func newChunksCmd(flags *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "chunks <text>",
		Short: "Show how a reply would be split for speech synthesis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.TTS.MaxChunkChars
			}
			out := cmd.OutOrStdout()
			for i, chunk := range tts.SplitChunks(strings.Join(args, " "), limit) {
				fmt.Fprintf(out, "%2d  %s\n", i+1, chunk)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "max", 0, "maximum characters per chunk (default from config)")
	return cmd
}

func newTranscribeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <file.wav>...",
		Short: "Transcribe recordings with the configured provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			tr, err := newTranscriber(ctx, cfg.Transcribe, log.L())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failed int
			for _, path := range args {
				text, err := tr.Transcribe(ctx, path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s\tError: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\n", path, text)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d transcriptions failed", failed, len(args))
			}
			return nil
		},
	}
}
