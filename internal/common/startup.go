package common

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BindCommandlineArguments makes every registered pflag override its
// matching configuration key.
func BindCommandlineArguments() {
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// LoadConfig reads the default config file and merges the user-specified
// override file on top, when one is given. Flag values bound through
// BindCommandlineArguments take precedence over both.
func LoadConfig(config interface{}, defaultPath string, overrideConfig string) {
	viper.SetConfigName("config")
	viper.AddConfigPath(defaultPath)
	if err := viper.ReadInConfig(); err != nil {
		log.Errorf("Failed to read config from %s because %s", defaultPath, err)
		os.Exit(-1)
	}

	if overrideConfig != "" {
		viper.SetConfigFile(overrideConfig)
		if err := viper.MergeInConfig(); err != nil {
			log.Errorf("Failed to merge config file %s because %s", overrideConfig, err)
			os.Exit(-1)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		log.Errorf("Failed to unmarshal configuration because %s", err)
		os.Exit(-1)
	}
}

func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)

	if levelName := os.Getenv("LOG_LEVEL"); levelName != "" {
		level, err := log.ParseLevel(levelName)
		if err != nil {
			log.Warnf("Ignoring unknown LOG_LEVEL %q", levelName)
			return
		}
		log.SetLevel(level)
	}
}
