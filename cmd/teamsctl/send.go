package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/teams-classbot/config"
	"github.com/onnwee/teams-classbot/credential"
	"github.com/onnwee/teams-classbot/gateway"
	"github.com/onnwee/teams-classbot/teams"
)

type messenger interface {
	SendMessage(ctx context.Context, channelID, html string) (gateway.SentMessage, error)
	EditMessage(ctx context.Context, channelID, messageID, clientMessageID, html string) error
}

// connect attaches to the running client and waits until the session is up,
// so the credential can be extracted from it.
func connect(ctx context.Context, cfg *config.Config, wait time.Duration) (*teams.Client, func(), error) {
	c := teams.New(cfg)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()
	stop := func() {
		cancel()
		<-done
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for !c.Status().Connected {
		select {
		case <-ctx.Done():
			stop()
			return nil, nil, ctx.Err()
		case <-deadline.C:
			stop()
			return nil, nil, fmt.Errorf("client session not ready after %s", wait)
		case <-tick.C:
		}
	}
	return c, stop, nil
}

// staticCredentials serves a token handed in by the operator.
type staticCredentials struct{ token string }

func (s staticCredentials) Ensure(context.Context) (credential.Credential, error) {
	return credential.Credential{Token: s.token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (staticCredentials) Invalidate() {}

func newSendCmd() *cobra.Command {
	var (
		channel string
		body    string
		token   string
		edit    string
		client  string
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Post or edit an HTML message",
		Long: `send attaches to the running client, extracts a credential from it and posts
one message. With --token (or TEAMS_API_TOKEN) the client is not contacted and
the given API credential is used as is.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("TEAMS_API_TOKEN")
			}
			var msgr messenger
			if token != "" {
				msgr = gateway.New(gateway.Options{
					BaseURL:     cfg.ChatServiceURL,
					Credentials: staticCredentials{token: token},
					Timeout:     cfg.APITimeout,
				})
			} else {
				c, stop, err := connect(cmd.Context(), cfg, wait)
				if err != nil {
					return err
				}
				defer stop()
				msgr = c
			}
			if edit != "" {
				if err := msgr.EditMessage(cmd.Context(), channel, edit, client, body); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "edited %s\n", edit)
				return nil
			}
			sent, err := msgr.SendMessage(cmd.Context(), channel, body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s (client id %s)\n", sent.ID, sent.ClientMessageID)
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "conversation id")
	cmd.Flags().StringVar(&body, "html", "", "message body (HTML)")
	cmd.Flags().StringVar(&token, "token", "", "API credential (defaults to TEAMS_API_TOKEN)")
	cmd.Flags().StringVar(&edit, "edit", "", "id of a message to edit instead of posting")
	cmd.Flags().StringVar(&client, "client-id", "", "client message id of the edited message")
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Second, "how long to wait for the client session")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("html")
	return cmd
}
