package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode" validate:"oneof=debug release test"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	Secret   string `mapstructure:"secret" validate:"required,min=16"`

	APIBaseURL  string `mapstructure:"api_base_url" validate:"required,url"`
	ChannelURL  string `mapstructure:"channel_url" validate:"required,url"`
	VoiceURL    string `mapstructure:"voice_url" validate:"required,url"`
	VoiceAPIKey string `mapstructure:"voice_api_key"`

	AlertCapacity      int           `mapstructure:"alert_capacity" validate:"min=1"`
	TranscriptCapacity int           `mapstructure:"transcript_capacity" validate:"min=1"`
	CacheMaxAge        time.Duration `mapstructure:"cache_max_age" validate:"min=0s"`
	NotifyBuffer       int           `mapstructure:"notify_buffer" validate:"min=1"`

	ReadLimit    int64         `mapstructure:"read_limit" validate:"min=1024"`
	PingPeriod   time.Duration `mapstructure:"ping_period" validate:"min=1s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=1ms"`

	ICEServers          []string      `mapstructure:"ice_servers"`
	AudioSampleInterval time.Duration `mapstructure:"audio_sample_interval" validate:"min=1ms"`
}

// Level is the zerolog level for LogLevel, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Flags registers the command line overrides understood by Loader.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.Int("port", 0, "HTTP listen port")
	fs.String("mode", "", "gin mode (debug|release|test)")
	fs.String("log_level", "", "log level (trace|debug|info|warn|error)")
}

// Loader reads Config from a yaml file, DISPATCH_* environment variables
// and command line flags, in increasing precedence.
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
	fileName string

	mu sync.Mutex
}

func NewLoader(fs *pflag.FlagSet) (*Loader, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	fileName := ""
	if fs != nil {
		fileName, _ = fs.GetString("config")
	}
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	// Keys without a default are only seen by Unmarshal once bound.
	for _, key := range []string{"secret", "voice_api_key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if fs != nil {
		for _, name := range []string{"port", "mode", "log_level"} {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(name, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	return &Loader{
		v:        v,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		fileName: fileName,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("api_base_url", "http://localhost:8000")
	v.SetDefault("channel_url", "ws://localhost:8000/ws")
	v.SetDefault("voice_url", "ws://localhost:8000/voice")
	v.SetDefault("alert_capacity", 5)
	v.SetDefault("transcript_capacity", 50)
	v.SetDefault("cache_max_age", "1m")
	v.SetDefault("notify_buffer", 16)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("audio_sample_interval", "100ms")
}

// Load reads the config file if present and returns the validated result.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", l.fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", l.fileName).Msg("loaded config")
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("api", cfg.APIBaseURL).
		Msg("config ready")
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := l.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Watch calls fn with every valid revision of the config file. Invalid
// revisions are logged and skipped.
func (l *Loader) Watch(fn func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("ignoring config change")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		fn(cfg)
	})
	l.v.WatchConfig()
}
