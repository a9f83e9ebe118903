// Command teamsctl is an operator tool for inspecting a running client:
// listing debugger targets, decoding captured frames and posting messages.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information, injected at build time via ldflags.
var (
	Version   = "dev"
	Build     = "unknown"
	BuildTime = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "teamsctl",
		Short: "Inspect and drive the class bot's chat client",
		Long: `teamsctl talks to the chat client's remote debugging port and chat service.

Settings are read from the same environment variables as the bot.`,
		Version:       fmt.Sprintf("%s (build %s, %s)", Version, Build, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTargetsCmd(), newDecodeCmd(), newSendCmd())
	return root
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
