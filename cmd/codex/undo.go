package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codex-core/codex/internal/checkpoint"
	"github.com/codex-core/codex/internal/config"
)

func newUndoCmd() *cobra.Command {
	var cwd string

	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Reset the working tree to the checkpoint before the last tool call",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cwd == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				cwd = wd
			}
			home, err := codexHome()
			if err != nil {
				return err
			}
			ckpt := checkpoint.New(cwd, config.ShadowGitDir(home))
			if err := ckpt.Init(); err != nil {
				return err
			}
			hashes, err := ckpt.Log(2)
			if err != nil {
				return err
			}
			if len(hashes) < 2 {
				return fmt.Errorf("no earlier checkpoint to undo to")
			}
			if err := ckpt.Restore(hashes[1]); err != nil {
				return err
			}
			fmt.Printf("restored working tree to %s\n", hashes[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory (default: current directory)")
	return cmd
}
