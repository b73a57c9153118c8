package main

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	setDefaults()
}

func setDefaults() {
	viper.SetDefault("server.port", 8042)
	viper.SetDefault("server.path_prefix", "")
	viper.SetDefault("server.max_upload_size", 0)

	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.dsn", "dicomweb.db")

	viper.SetDefault("storage.path", "./data")

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.anonymous_read", false)

	viper.SetDefault("store.duplicate_policy", "reject")
	viper.SetDefault("store.validate_uids", true)

	viper.SetDefault("compression.enabled", true)
	viper.SetDefault("compression.min_size", 1024)

	viper.SetDefault("log.level", "info")
}

func readConfig(cmd *cobra.Command) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		slog.Warn("failed to bind flags", "err", err)
	}

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("DICOMWEB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			slog.Warn("error reading config file", "err", err)
		}
	}
}
