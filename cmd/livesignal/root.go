package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

var (
	cfgFile    string
	clientFile string
)

const (
	serverURLKey = "server"
	tokenKey     = "token"
)

var rootCmd = &cobra.Command{
	Use:           "livesignal",
	Short:         "Live streaming signaling and session coordinator",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initClientConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "server config file")
	rootCmd.PersistentFlags().StringVar(&clientFile, "client-config", "", "client settings file (default $HOME/.livesignal.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "control plane base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the control plane")

	_ = viper.BindPFlag(serverURLKey, rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag(tokenKey, rootCmd.PersistentFlags().Lookup("token"))
}

// initClientConfig loads client settings from flags, LIVESIGNAL_* env and an
// optional settings file. The server reads its own YAML config in serve.
func initClientConfig() {
	if clientFile != "" {
		viper.SetConfigFile(clientFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName(".livesignal")
	}

	viper.SetEnvPrefix("livesignal")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && clientFile != "" {
			fmt.Fprintln(os.Stderr, "Error reading client settings:", err)
		}
	}
}
