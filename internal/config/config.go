package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// ShortlinkMode selects how URLs inside chat messages are rewritten.
type ShortlinkMode string

const (
	ShortlinkEnabled  ShortlinkMode = "enabled"
	ShortlinkDisabled ShortlinkMode = "disabled"
	ShortlinkRedact   ShortlinkMode = "redact"
)

type AppConfig struct {
	WSPort  int    `yaml:"ws_port"`
	WSToken string `yaml:"ws_token"`

	PlatformAPIURL     string `yaml:"platform_api_url"`
	PlatformEventWSURL string `yaml:"platform_event_ws_url"`

	Channels        []string `yaml:"channels"`
	FallbackChannel string   `yaml:"fallback_channel"`

	PassiveMode          bool `yaml:"passive_mode"`
	PassiveFlushDelaySec int  `yaml:"passive_flush_delay"`

	TriggerToGame        string `yaml:"trigger_to_game"`
	TriggerToChat        string `yaml:"trigger_to_chat"`
	TriggerToChatEnabled bool   `yaml:"trigger_to_chat_enabled"`

	ShortlinkMode   ShortlinkMode `yaml:"shortlink_mode"`
	ShortlinkAPIURL string        `yaml:"shortlink_api_url"`
	ShortlinkToken  string        `yaml:"shortlink_token"`

	ScheduleEnabled bool   `yaml:"schedule_enabled"`
	ScheduleStart   string `yaml:"schedule_start"`
	ScheduleStop    string `yaml:"schedule_stop"`

	RedisURL string `yaml:"redis_url"`

	SuspendNotice string `yaml:"suspend_notice"`
}

// Load reads the optional YAML file named by RELAY_CONFIG_FILE, then applies
// environment overrides and validates required fields.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		WSPort:               5555,
		PassiveFlushDelaySec: 5,
		ShortlinkMode:        ShortlinkDisabled,
		ScheduleStart:        "06:00",
		ScheduleStop:         "00:00",
		SuspendNotice:        "消息转发暂不可用",
	}

	if path := strings.TrimSpace(os.Getenv("RELAY_CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("WS_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			cfg.WSPort = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("WS_TOKEN")); v != "" {
		cfg.WSToken = v
	}
	if v := strings.TrimSpace(os.Getenv("PLATFORM_API_URL")); v != "" {
		cfg.PlatformAPIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PLATFORM_EVENT_WS_URL")); v != "" {
		cfg.PlatformEventWSURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHANNELS")); v != "" {
		cfg.Channels = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("FALLBACK_CHANNEL")); v != "" {
		cfg.FallbackChannel = v
	}
	if v := strings.TrimSpace(os.Getenv("PASSIVE_MODE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.PassiveMode = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("PASSIVE_FLUSH_DELAY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PassiveFlushDelaySec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TRIGGER_TO_GAME")); v != "" {
		cfg.TriggerToGame = v
	}
	if v := strings.TrimSpace(os.Getenv("TRIGGER_TO_CHAT")); v != "" {
		cfg.TriggerToChat = v
	}
	if v := strings.TrimSpace(os.Getenv("TRIGGER_TO_CHAT_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TriggerToChatEnabled = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("SHORTLINK_MODE")); v != "" {
		cfg.ShortlinkMode = ShortlinkMode(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("SHORTLINK_API_URL")); v != "" {
		cfg.ShortlinkAPIURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SHORTLINK_TOKEN")); v != "" {
		cfg.ShortlinkToken = v
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULE_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ScheduleEnabled = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULE_START")); v != "" {
		cfg.ScheduleStart = v
	}
	if v := strings.TrimSpace(os.Getenv("SCHEDULE_STOP")); v != "" {
		cfg.ScheduleStop = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SUSPEND_NOTICE")); v != "" {
		cfg.SuspendNotice = v
	}

	if cfg.WSToken == "" {
		return nil, errors.New("WS_TOKEN is required")
	}
	switch cfg.ShortlinkMode {
	case ShortlinkEnabled, ShortlinkDisabled, ShortlinkRedact:
	default:
		return nil, fmt.Errorf("invalid SHORTLINK_MODE %q", cfg.ShortlinkMode)
	}
	if cfg.ShortlinkMode == ShortlinkEnabled && cfg.ShortlinkAPIURL == "" {
		return nil, errors.New("SHORTLINK_API_URL is required when SHORTLINK_MODE=enabled")
	}
	for _, ch := range append(append([]string{}, cfg.Channels...), cfg.FallbackChannel) {
		if ch == "" {
			continue
		}
		if !strings.Contains(ch, ":") {
			return nil, fmt.Errorf("channel %q must look like platform:id", ch)
		}
	}
	if _, _, err := ParseClock(cfg.ScheduleStart); err != nil {
		return nil, fmt.Errorf("SCHEDULE_START: %w", err)
	}
	if _, _, err := ParseClock(cfg.ScheduleStop); err != nil {
		return nil, fmt.Errorf("SCHEDULE_STOP: %w", err)
	}

	return cfg, nil
}

// ParseClock parses a "HH:MM" boundary.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
