package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/teams-classbot/config"
	"github.com/onnwee/teams-classbot/envelope"
	"github.com/onnwee/teams-classbot/events"
	"github.com/onnwee/teams-classbot/meeting"
	"github.com/onnwee/teams-classbot/teams"
)

type decodedEvent struct {
	Event string       `json:"event"`
	Data  events.Event `json:"data"`
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode",
		Short: "Classify captured frames read from stdin, one per line",
		Long: `decode reads raw socket frames (one per line) and prints each event the bot
would emit as a JSON line. Frames that carry no event are skipped; meeting
starts are correlated across lines exactly as in the running bot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return decodeFrames(cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func decodeFrames(cfg *config.Config, in io.Reader, out, errOut io.Writer) error {
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
	decoder := teams.DecoderFor(cfg)
	classifier := envelope.NewClassifier(meeting.NewCorrelator(cfg.MeetingWindow, time.Now, logger), cfg.BotIDPrefix, logger)
	enc := json.NewEncoder(out)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		env, ok, err := decoder.Decode(sc.Text())
		if err != nil {
			fmt.Fprintf(errOut, "line %d: %v\n", line, err)
			continue
		}
		if !ok {
			continue
		}
		ev, ok := classifier.Classify(env)
		if !ok {
			continue
		}
		if err := enc.Encode(decodedEvent{Event: ev.Kind().String(), Data: ev}); err != nil {
			return err
		}
	}
	return sc.Err()
}
