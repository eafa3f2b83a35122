// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment overrides: ACCOUNTS_SESSION__SECRET sets
// session.secret.
const EnvPrefix = "ACCOUNTS_"

// legacyEnv maps the environment names of earlier deployments to keys.
var legacyEnv = map[string]string{
	"PORT":                "http.addr",
	"BASE_URL":            "base_url",
	"JWT_SECRET":          "session.secret",
	"MAILTRAP_HOST":       "mail.host",
	"MAILTRAP_PORT":       "mail.port",
	"MAILTRAP_USERNAME":   "mail.username",
	"MAILTRAP_PASSWORD":   "mail.password",
	"MAILTRAP_SENDERMAIL": "mail.from",
	"DATABASE_URL":        "database.url",
	"MONGO_URI":           "mongo.uri",
}

// flagKeys maps command flags to keys. Only flags set on the command line
// override other sources.
var flagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"auto-migrate": "database.auto_migrate",
}

// listKeys hold comma-separated lists when set from the environment.
var listKeys = map[string]bool{
	"http.cors_origins": true,
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// File is an optional YAML file. It is validated against the schema.
	File string
	// Flags are applied last. May be nil.
	Flags *pflag.FlagSet
}

// Load builds the configuration from defaults, the YAML file, legacy
// environment names, ACCOUNTS_ variables and changed flags, in that order.
// The result is not validated; call Validate.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").Wrap(err)
	}

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", opts.File).Wrap(err)
		}
		if err := ValidateSchema(data); err != nil {
			return nil, oops.Code("CONFIG_SCHEMA_INVALID").With("path", opts.File).Wrap(err)
		}
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", opts.File).Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", legacyEnvValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "legacy env").Wrap(err)
	}
	if os.Getenv("MONGO_URI") != "" && os.Getenv("DATABASE_URL") == "" {
		if err := k.Load(confmap.Provider(map[string]any{"database.driver": DriverMongo}, "."), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "legacy env").Wrap(err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", prefixedEnvValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, flagValue), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "decode").Wrap(err)
	}
	return &cfg, nil
}

func legacyEnvValue(name, value string) (string, any) {
	key, ok := legacyEnv[name]
	if !ok || value == "" {
		return "", nil
	}
	if name == "PORT" && !strings.Contains(value, ":") {
		return key, ":" + value
	}
	return key, value
}

func prefixedEnvValue(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if listKeys[key] {
		return key, splitList(value)
	}
	return key, value
}

func flagValue(f *pflag.Flag) (string, any) {
	key, ok := flagKeys[f.Name]
	if !ok || !f.Changed {
		return "", nil
	}
	return key, f.Value.String()
}

func splitList(value string) []string {
	var items []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
