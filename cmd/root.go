package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/endorses/fpengine/cmd/lookup"
	"github.com/endorses/fpengine/cmd/match"
	"github.com/endorses/fpengine/cmd/validate"
	"github.com/endorses/fpengine/internal/pkg/cmdutil"
	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/endorses/fpengine/internal/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fpe",
	Short: "fpe fingerprints hosts from their traffic",
	Long: fmt.Sprintf(`fpe %s - passive fingerprinting engine

fpe runs declarative fingerprints over captured packets and reports what it
learns about each host and connection.`, version.Short()),
	Version:       version.Get().String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cmdutil.ConfigureLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func addSubCommandPalattes() {
	rootCmd.AddCommand(match.MatchCmd)
	rootCmd.AddCommand(validate.ValidateCmd)
	rootCmd.AddCommand(lookup.LookupCmd)
}

func init() {
	cobra.OnInitialize(initConfig)

	// Initialize structured logging
	logger.Initialize()

	addSubCommandPalattes()
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fpe/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")

	_ = viper.BindPFlag(cmdutil.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag(cmdutil.KeyLogFormat, rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Priority order for config files:
		// 1. ~/.config/fpe/config.yaml
		// 2. ~/.config/fpe.yaml
		viper.AddConfigPath(home + "/.config/fpe")
		viper.AddConfigPath(home + "/.config")
		viper.SetConfigType("yaml")

		viper.SetConfigName("config")
		if err := viper.ReadInConfig(); err != nil {
			viper.SetConfigName("fpe")
		}
	}

	viper.SetEnvPrefix("FPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	cmdutil.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
