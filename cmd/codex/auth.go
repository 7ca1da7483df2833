package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codex-core/codex/internal/auth"
)

func newLoginCmd() *cobra.Command {
	var apiKey string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store credentials for the model provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				return fmt.Errorf("login: --api-key is required (ChatGPT OAuth login is not implemented by this client)")
			}
			home, err := codexHome()
			if err != nil {
				return err
			}
			mgr := auth.NewManager(auth.NewStore(home))
			if err := mgr.LoginWithAPIKey(apiKey); err != nil {
				return err
			}
			fmt.Println("logged in with API key")
			return nil
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "provider API key")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := codexHome()
			if err != nil {
				return err
			}
			mgr := auth.NewManager(auth.NewStore(home))
			if err := mgr.Load(); err != nil {
				return err
			}
			if err := mgr.Logout(); err != nil {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}
