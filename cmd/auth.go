package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/daybook/internal/config"
)

var (
	loginServer string
	loginEmail  string
	loginUser   string
	loginToken  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store server credentials",
	Long: `Store the server URL, user id and session token in
~/.config/daybook/auth.json. Sync commands use them until logout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginUser == "" || loginToken == "" {
			return fmt.Errorf("--user and --token are required")
		}
		creds := &config.AuthCredentials{
			Token:     loginToken,
			UserID:    loginUser,
			Email:     loginEmail,
			ServerURL: loginServer,
		}
		if err := config.SaveAuth(creds); err != nil {
			return fmt.Errorf("save credentials: %w", err)
		}
		fmt.Printf("Signed in as %s\n", loginUser)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearAuth(); err != nil {
			return fmt.Errorf("clear credentials: %w", err)
		}
		fmt.Println("Signed out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginServer, "server", "", "server URL (default from config)")
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginUser, "user", "", "user id")
	loginCmd.Flags().StringVar(&loginToken, "token", "", "session token")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
