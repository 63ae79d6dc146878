package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	LogLevel    string        `mapstructure:"log_level"`
	StaticPath  string        `mapstructure:"static_path"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	PongWait    time.Duration `mapstructure:"pong_wait"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	Secret      string        `mapstructure:"secret"`
	CORSOrigins []string      `mapstructure:"cors_origins"`

	Rooms RoomsConfig `mapstructure:"rooms"`
	Rate  RateConfig  `mapstructure:"rate"`
	Agora AgoraConfig `mapstructure:"agora"`
	TRTC  TRTCConfig  `mapstructure:"trtc"`
}

type RoomsConfig struct {
	HistorySnapshot int  `mapstructure:"history_snapshot"`
	MicSlots        int  `mapstructure:"mic_slots"`
	MaxMessageLen   int  `mapstructure:"max_message_len"`
	KickSlow        bool `mapstructure:"kick_slow"`
}

type RateConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	Burst           int     `mapstructure:"burst"`
}

type AgoraConfig struct {
	AppID          string        `mapstructure:"app_id"`
	AppCertificate string        `mapstructure:"app_certificate"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
}

type TRTCConfig struct {
	SDKAppID  int           `mapstructure:"sdk_app_id"`
	SecretKey string        `mapstructure:"secret_key"`
	Expire    time.Duration `mapstructure:"expire"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 5000)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "change-me")
	v.SetDefault("cors_origins", []string{"*"})

	v.SetDefault("rooms.history_snapshot", 50)
	v.SetDefault("rooms.mic_slots", 8)
	v.SetDefault("rooms.max_message_len", 1000)
	v.SetDefault("rooms.kick_slow", false)

	v.SetDefault("rate.events_per_second", 10)
	v.SetDefault("rate.burst", 20)

	v.SetDefault("agora.app_id", "")
	v.SetDefault("agora.app_certificate", "")
	v.SetDefault("agora.token_ttl", "1h")

	v.SetDefault("trtc.sdk_app_id", 0)
	v.SetDefault("trtc.secret_key", "")
	v.SetDefault("trtc.expire", "24h")
}

// Load reads config/config.<CONFIG_ENV>.yaml when present. Every key can be
// overridden from the environment, e.g. AGORA_APP_ID or ROOMS_MIC_SLOTS.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Bool("agora", cfg.Agora.AppID != "").
		Bool("trtc", cfg.TRTC.SDKAppID != 0).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Rooms.MicSlots <= 0 {
		errs = append(errs, errors.New("rooms.mic_slots must be positive"))
	}
	if c.Rooms.HistorySnapshot <= 0 {
		errs = append(errs, errors.New("rooms.history_snapshot must be positive"))
	}
	if c.PongWait <= c.PingPeriod {
		errs = append(errs, errors.New("pong_wait must exceed ping_period"))
	}
	return errors.Join(errs...)
}
