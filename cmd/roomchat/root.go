package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/whisper/roomchat/internal/client"
	"github.com/whisper/roomchat/internal/config"
	"github.com/whisper/roomchat/internal/protocol"
)

var cfgFile string

const (
	apiBaseURLKey   = "api_base_url"
	wsBaseURLKey    = "ws_base_url"
	accessTokenKey  = "access_token"
	openTimeoutKey  = "open_timeout"
	httpTimeoutKey  = "http_timeout"
	writeTimeoutKey = "write_timeout"
	userIDKey       = "user_id"
	userNameKey     = "name"
	verboseKey      = "verbose"
)

var rootCmd = &cobra.Command{
	Use:           "roomchat",
	Short:         "Chat in rooms served by a roomchat server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.roomchat.yaml)")
	rootCmd.PersistentFlags().String("api", "", "resource API base URL (e.g. http://localhost:8080)")
	rootCmd.PersistentFlags().String("ws", "", "channel base URL (e.g. ws://localhost:8080)")
	rootCmd.PersistentFlags().String("token", "", "bearer token sent with every request")
	rootCmd.PersistentFlags().Int64("user-id", 0, "your participant id")
	rootCmd.PersistentFlags().String("name", "", "your display name")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log client internals to stderr")

	viper.BindPFlag(apiBaseURLKey, rootCmd.PersistentFlags().Lookup("api"))
	viper.BindPFlag(wsBaseURLKey, rootCmd.PersistentFlags().Lookup("ws"))
	viper.BindPFlag(accessTokenKey, rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag(userIDKey, rootCmd.PersistentFlags().Lookup("user-id"))
	viper.BindPFlag(userNameKey, rootCmd.PersistentFlags().Lookup("name"))
	viper.BindPFlag(verboseKey, rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(joinCmd, createCmd)
}

// initConfig reads the config file and ROOMCHAT_* environment variables.
// Values from config.LoadClient are the defaults.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".roomchat")
	}

	viper.SetEnvPrefix("roomchat")
	viper.AutomaticEnv()

	defaults, err := config.LoadClient()
	cobra.CheckErr(err)
	viper.SetDefault(apiBaseURLKey, defaults.APIBaseURL)
	viper.SetDefault(wsBaseURLKey, defaults.WSBaseURL)
	viper.SetDefault(accessTokenKey, defaults.AccessToken)
	viper.SetDefault(openTimeoutKey, defaults.OpenTimeout)
	viper.SetDefault(httpTimeoutKey, defaults.HTTPTimeout)
	viper.SetDefault(writeTimeoutKey, defaults.WriteTimeout)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

// newClient builds a client from the merged configuration.
func newClient() *client.Client {
	logger := zerolog.Nop()
	if viper.GetBool(verboseKey) {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return client.New(config.Client{
		APIBaseURL:   viper.GetString(apiBaseURLKey),
		WSBaseURL:    viper.GetString(wsBaseURLKey),
		OpenTimeout:  viper.GetDuration(openTimeoutKey),
		HTTPTimeout:  viper.GetDuration(httpTimeoutKey),
		WriteTimeout: viper.GetDuration(writeTimeoutKey),
		AccessToken:  viper.GetString(accessTokenKey),
	}, logger)
}

// participant returns the identity the commands act for.
func participant() (protocol.Participant, error) {
	p := protocol.Participant{
		ID:   viper.GetInt64(userIDKey),
		Name: viper.GetString(userNameKey),
	}
	if p.Name == "" {
		return p, fmt.Errorf("a display name is required (--name or ROOMCHAT_NAME)")
	}
	return p, nil
}
