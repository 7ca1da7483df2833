package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codex-core/codex/internal/mcp"
)

func newMcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP server registrations (mcp_settings.json)",
	}
	cmd.AddCommand(newMcpAddCmd(), newMcpListCmd(), newMcpRemoveCmd())
	return cmd
}

func newMcpAddCmd() *cobra.Command {
	var args []string
	var envPairs []string

	cmd := &cobra.Command{
		Use:   "add <name> <command>",
		Short: "Register an MCP server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			home, err := codexHome()
			if err != nil {
				return err
			}
			env := map[string]string{}
			for _, pair := range envPairs {
				k, v, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("--env expects KEY=VALUE, got %q", pair)
				}
				env[k] = v
			}
			mgr := mcp.NewManager(home)
			return mgr.AddServer(cmdArgs[0], mcp.McpServerConfig{
				Command: cmdArgs[1],
				Args:    args,
				Env:     env,
			})
		},
	}

	cmd.Flags().StringArrayVar(&args, "arg", nil, "argument to pass to the server command (repeatable)")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "KEY=VALUE environment variable (repeatable)")
	return cmd
}

func newMcpListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered MCP servers",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			home, err := codexHome()
			if err != nil {
				return err
			}
			servers, err := mcp.NewManager(home).ListServers()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(servers))
			for name := range servers {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				cfg := servers[name]
				status := "enabled"
				if cfg.Disabled {
					status = "disabled"
				}
				fmt.Printf("%s\t%s %s\t[%s]\n", name, cfg.Command, strings.Join(cfg.Args, " "), status)
			}
			return nil
		},
	}
}

func newMcpRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Unregister an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			home, err := codexHome()
			if err != nil {
				return err
			}
			return mcp.NewManager(home).RemoveServer(cmdArgs[0])
		},
	}
}
