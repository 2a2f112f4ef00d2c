// Package commands defines all Cobra CLI commands for the ragproxy binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/localrag/ragproxy-go/internal/audit"
	"github.com/localrag/ragproxy-go/internal/config"
	"github.com/localrag/ragproxy-go/internal/logging"
)

// configDir holds the --config flag value: the JSON config directory
// override (see internal/config's doc comment for the search order).
var configDir string

// loadedConfigDir stores the resolved config directory for audit logging.
var loadedConfigDir string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragproxy",
		Short: "ragproxy — a local retrieval-augmented OpenAI-compatible gateway",
		Long: `ragproxy is a local-first gateway that fronts a spawned LLM backend
with an OpenAI-compatible /v1/chat/completions endpoint, augmenting each
request with context retrieved from ingested PDFs and websites.

It manages the backend process lifecycle (start/stop/restart named
endpoints), exposes slash commands for arming and disarming retrieval
from inside a chat client, and streams responses through unchanged.

Configuration lives in three JSON files under a resolved config
directory (see 'ragproxy serve --help'); environment variables always
override file values.
See 'ragproxy --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			dir, err := config.ResolveDir(configDir)
			if err != nil {
				return err
			}
			loadedConfigDir = dir

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigDir)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configDir, "config", "", "Path to the JSON config directory (default: resolved search order, see docs)")

	root.AddCommand(
		NewServeCmd(),
		NewEndpointCmd(),
		NewVersionCmd(),
	)

	return root
}
