package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopwire/shopwire/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultVerifyTimeout = 5 * time.Second
	defaultSendBuffer    = 256
)

// Config is the global configuration object which is filled via the configuration file
// and/or environment variables (prefix SHOPWIRE_) and command-line flags.
type Config struct {
	JWTConfig         JWTConfig         `mapstructure:"jwt"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	HubConfig         HubConfig         `mapstructure:"hub"`
	BackplaneConfig   BackplaneConfig   `mapstructure:"backplane"`
	LogLevel          string            `mapstructure:"log_level"`
}

// JWTConfig configures the verification of the bearer tokens presented on the
// websocket handshake and on the REST endpoints. The secret is mandatory, the
// issuer is only checked when set.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// PersistenceConfig configures the persistence backend. Type is one of
// "postgres", "sqlite" (both via gorm) or "buntdb" (single-file dev storage).
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// HubConfig tunes the per-connection send buffer and the timeout applied to the
// team-membership query on shop:join.
type HubConfig struct {
	SendBuffer           int `mapstructure:"send_buffer"`
	VerifyTimeoutSeconds int `mapstructure:"verify_timeout_seconds"`
}

func (h HubConfig) VerifyTimeout() time.Duration {
	if h.VerifyTimeoutSeconds <= 0 {
		return defaultVerifyTimeout
	}
	return time.Duration(h.VerifyTimeoutSeconds) * time.Second
}

func (h HubConfig) SendBufferSize() int {
	if h.SendBuffer <= 0 {
		return defaultSendBuffer
	}
	return h.SendBuffer
}

// BackplaneConfig configures the optional NATS fan-out bridge. When URL is empty
// the process delivers events to its local rooms only.
type BackplaneConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

func (b BackplaneConfig) Prefix() string {
	if b.SubjectPrefix == "" {
		return "shopwire.rooms"
	}
	return b.SubjectPrefix
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("jwt-secret", "", "secret used to verify bearer tokens")
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.Replace(name, "-", "_", -1))
}

// ReadConfiguration reads and parses the configuration located at configPath, which can
// either point to a single TOML file or to a directory, in which case all *.toml files
// in this directory are concatenated. It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	v := viper.New()
	err := v.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	v.SetEnvPrefix("SHOPWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config", "error", err)
		}
	}
	err = v.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config", "error", err)
	}
	if secret := v.GetString("jwt_secret"); secret != "" && cfg.JWTConfig.Secret == "" {
		cfg.JWTConfig.Secret = secret
	}
	if level := v.GetString("log_level"); level != "" {
		cfg.LogLevel = level
	}

	return &cfg, nil
}
