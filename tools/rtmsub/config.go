package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. RTM_AUTH_ROLE.
const EnvPrefix = "RTM_"

// Config is the rtmsub configuration. Sources are applied in order:
// defaults, YAML file, environment, command line flags.
type Config struct {
	Endpoint string `koanf:"endpoint" validate:"required,url"`
	// Endpoints are fallbacks tried in rotation after Endpoint fails.
	Endpoints []string      `koanf:"endpoints" validate:"dive,url"`
	AppKey    string        `koanf:"appkey"`
	Channel   string        `koanf:"channel" validate:"required"`
	Filter    string        `koanf:"filter"`
	Count     int           `koanf:"count" validate:"min=0"`
	Timeout   time.Duration `koanf:"timeout" validate:"min=0"`

	Subscription SubscriptionConfig `koanf:"subscription"`
	Auth         AuthConfig         `koanf:"auth"`
	Reconnect    ReconnectConfig    `koanf:"reconnect"`
	Log          LogConfig          `koanf:"log"`

	PositionFile string `koanf:"position_file"`
	MetricsAddr  string `koanf:"metrics_addr" validate:"omitempty,hostname_port"`
}

type SubscriptionConfig struct {
	ID           string `koanf:"id"`
	Position     string `koanf:"position"`
	FastForward  bool   `koanf:"fast_forward"`
	HistoryCount int    `koanf:"history_count" validate:"min=0"`
	HistoryAge   int    `koanf:"history_age" validate:"min=0"`
}

type AuthConfig struct {
	Role   string `koanf:"role" validate:"required_with=Secret"`
	Secret string `koanf:"secret" validate:"required_with=Role"`
}

type ReconnectConfig struct {
	Enabled  bool          `koanf:"enabled"`
	MinDelay time.Duration `koanf:"min_delay" validate:"gt=0"`
	MaxDelay time.Duration `koanf:"max_delay" validate:"gtefield=MinDelay"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

func defaultConfig() Config {
	return Config{
		Endpoint: "ws://127.0.0.1:8080",
		Reconnect: ReconnectConfig{
			Enabled:  true,
			MinDelay: 100 * time.Millisecond,
			MaxDelay: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig merges defaults, the YAML file at path (skipped when empty)
// and RTM_ environment variables, then applies overrides, which hold
// flag values keyed by koanf path. The result is validated.
func LoadConfig(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		values, err := readYAML(path)
		if err != nil {
			return nil, err
		}
		if err = k.Load(rawMap(values), nil); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key string, value string) (string, any) {
			return envKey(key), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to apply flag %s: %w", key, err)
		}
	}

	var config Config
	err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &config,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err = validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// envKey maps RTM_AUTH_ROLE to auth.role. Only the first underscore after
// a section name becomes a dot, so RTM_POSITION_FILE stays position_file.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, section := range []string{"subscription", "auth", "reconnect", "log"} {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok {
			return section + "." + rest
		}
	}
	return key
}

func readYAML(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	values := map[string]any{}
	if err = yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return values, nil
}

// rawMap adapts an already decoded map to koanf.Provider.
type rawMap map[string]any

func (r rawMap) Read() (map[string]any, error) {
	return r, nil
}

func (r rawMap) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("ReadBytes not implemented")
}
