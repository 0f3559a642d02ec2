// Package config loads patcher settings from a file, PATCHER_*
// environment variables and command-line flags, in rising priority.
package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fortiblox/X1-Patcher/internal/logging"
	"github.com/fortiblox/X1-Patcher/internal/types"
	"github.com/fortiblox/X1-Patcher/pkg/container"
	"github.com/fortiblox/X1-Patcher/pkg/history"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "PATCHER"

// Keys.
const (
	KeyConfig         = "config"
	KeyInput          = "input"
	KeyOutput         = "output"
	KeySignatures     = "signatures"
	KeyPatches        = "patches"
	KeyCompress       = "compress"
	KeyLevel          = "compress-level"
	KeyDigest         = "digest"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
	KeyLogFile        = "log.file"
	KeyHistoryBackend = "history.backend"
	KeyHistoryPath    = "history.path"
)

// Config is the resolved configuration.
type Config struct {
	Input      string
	Output     string
	Signatures string
	Patches    string

	Archive container.Options
	Log     logging.Config

	// History is nil when no history path is configured.
	History *history.Config
}

// Flags registers every setting on fs. Flag names match the keys, with
// dots replaced by dashes.
func Flags(fs *pflag.FlagSet) {
	fs.StringP(KeyConfig, "c", "", "config file (yaml, toml or json)")
	fs.StringP(KeyInput, "i", "", "input class archive")
	fs.StringP(KeyOutput, "o", "", "output class archive")
	fs.StringP(KeySignatures, "s", "", "signature manifest (toml)")
	fs.StringP(KeyPatches, "p", "", "patch scripts (toml)")
	fs.Bool(KeyCompress, true, "zstd-compress the output archive")
	fs.Int(KeyLevel, 0, "zstd level, 0 for default")
	fs.String(KeyDigest, string(types.Blake3), "class digest: blake3 or sha3-256")
	fs.String(flagName(KeyLogLevel), "info", "log level")
	fs.String(flagName(KeyLogFormat), "console", "log format: console or json")
	fs.String(flagName(KeyLogFile), "", "log file, rotated by size")
	fs.String(flagName(KeyHistoryBackend), history.BackendBolt, "history backend: bolt or badger")
	fs.String(flagName(KeyHistoryPath), "", "history database path, empty to disable")
}

func flagName(key string) string {
	return strings.ReplaceAll(key, ".", "-")
}

var allKeys = []string{
	KeyConfig, KeyInput, KeyOutput, KeySignatures, KeyPatches, KeyCompress,
	KeyLevel, KeyDigest, KeyLogLevel, KeyLogFormat, KeyLogFile,
	KeyHistoryBackend, KeyHistoryPath,
}

// Load builds a Config from the flags in fs, the environment and, if
// given, the config file.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, key := range allKeys {
		f := fs.Lookup(flagName(key))
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, errors.Wrapf(err, "bind flag %s", f.Name)
		}
	}

	if path := v.GetString(KeyConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	algo, err := types.ParseAlgorithm(v.GetString(KeyDigest))
	if err != nil {
		return nil, err
	}
	compress, err := cast.ToBoolE(v.Get(KeyCompress))
	if err != nil {
		return nil, errors.Wrap(err, KeyCompress)
	}
	level, err := cast.ToIntE(v.Get(KeyLevel))
	if err != nil {
		return nil, errors.Wrap(err, KeyLevel)
	}

	cfg := &Config{
		Input:      v.GetString(KeyInput),
		Output:     v.GetString(KeyOutput),
		Signatures: v.GetString(KeySignatures),
		Patches:    v.GetString(KeyPatches),
		Archive: container.Options{
			Compress:  compress,
			Level:     level,
			Algorithm: algo,
		},
		Log: logging.Config{
			Level:      v.GetString(KeyLogLevel),
			Format:     v.GetString(KeyLogFormat),
			File:       v.GetString(KeyLogFile),
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
	if p := v.GetString(KeyHistoryPath); p != "" {
		cfg.History = &history.Config{
			Backend: v.GetString(KeyHistoryBackend),
			Path:    p,
		}
	}
	return cfg, nil
}
