// Command codex is the terminal entrypoint: a cobra CLI exposing the SQ/EQ
// session core over stdin/stdout, plus the auth and MCP-registry maintenance
// subcommands that don't need a running session.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codex-core/codex/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:   "codex",
		Short: "A terminal coding agent session core",
	}

	root.AddCommand(newSessionCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newLogoutCmd())
	root.AddCommand(newMcpCmd())
	root.AddCommand(newUndoCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// codexHome resolves $CODEX_HOME, creating it if necessary.
func codexHome() (string, error) {
	home := config.CodexHome()
	if err := os.MkdirAll(home, 0o700); err != nil {
		return "", fmt.Errorf("create codex home: %w", err)
	}
	return home, nil
}
