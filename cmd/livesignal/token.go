package main

import (
	"fmt"

	"livesignal/internal/core/domain"
	"livesignal/internal/core/services"
	"livesignal/pkg/config"

	"github.com/spf13/cobra"
)

var (
	tokenIdentity string
	tokenUsername string
)

// tokenCmd mints an access token with the server's signing secret. It is
// meant for development and operators; production identities come from the
// upstream identity provider.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer access token for an identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.ChannelTokenTTL)
		token, err := auth.GenerateToken(domain.Identity(tokenIdentity), tokenUsername)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenIdentity, "identity", "i", "", "identity to embed in the token")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "optional display name")
	_ = tokenCmd.MarkFlagRequired("identity")
	rootCmd.AddCommand(tokenCmd)
}
