// vrainweb/config/config.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/shlex"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	RenderCommand    []string      `mapstructure:"RENDER_CMD"`
	RenderRoot       string        `mapstructure:"RENDER_ROOT"`
	RenderTimeout    time.Duration `mapstructure:"RENDER_TIMEOUT"`
	TaskRetention    time.Duration `mapstructure:"TASK_RETENTION"`
	MaxConcurrency   int           `mapstructure:"MAX_CONCURRENCY"`
	QueueSize        int           `mapstructure:"QUEUE_SIZE"`
	MaxLogEntries    int           `mapstructure:"MAX_LOG_ENTRIES"`
	LineBufferSize   int64         `mapstructure:"LINE_BUFFER_SIZE"`
	SubscriberBuffer int           `mapstructure:"SUBSCRIBER_BUFFER"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable       bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey          string        `mapstructure:"AUTH_KEY"`
	Port             string        `mapstructure:"PORT"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to time.Duration.
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

// stringToArgsHookFunc splits a command line into argv without going through a shell.
func stringToArgsHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]string{}) {
			return data, nil
		}

		args, err := shlex.Split(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid command syntax: %w", err)
		}
		return args, nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("RENDER_CMD", "perl vrain.pl")
	vp.SetDefault("RENDER_ROOT", ".")
	vp.SetDefault("RENDER_TIMEOUT", "2h")
	vp.SetDefault("TASK_RETENTION", "24h")
	vp.SetDefault("MAX_CONCURRENCY", 2)
	vp.SetDefault("QUEUE_SIZE", 256)
	vp.SetDefault("MAX_LOG_ENTRIES", 0)
	vp.SetDefault("LINE_BUFFER_SIZE", "1MB")
	vp.SetDefault("SUBSCRIBER_BUFFER", 256)
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", "64MB")
	vp.SetDefault("THROTTLE_FREEDISK", "100MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("PORT", "3001")

	// Load from config file
	vp.SetConfigName("vrainweb_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/vrainweb/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("VRAINWEB")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the duration hook must run before the byte size
	// hook, since time.Duration is also an int64 kind.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
			stringToArgsHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	if len(cfg.RenderCommand) == 0 {
		return nil, fmt.Errorf("RENDER_CMD must name the renderer executable")
	}

	return &cfg, nil
}
