package cmd

import (
	"strings"

	"github.com/idorocodes/qight/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "qight",
	Short: "Store-and-forward message relay over QUIC",
	Long: `Qight is a store-and-forward message relay. Clients identify with a
HELLO, push TTL-bounded envelopes to named recipients, and drain their
own mailbox with FETCH and ACK. The relay keeps one FIFO mailbox per
recipient and speaks a length-prefixed binary protocol over QUIC.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/qight/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/qight")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("QIGHT")
	// Replace dots with underscores for nested keys in env vars
	// e.g., QIGHT_RELAY_MAX_SESSIONS for relay.max_sessions
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
