// Package config holds client settings shared by the transports and the
// session controller, with optional YAML file loading.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings configures endpoints and tuning knobs for the conversational
// session client. Zero values are filled in by ApplyDefaults.
type Settings struct {
	// VoiceBaseURL is the base URL of the voice-agent backend used by the
	// socket transport (negotiation endpoint).
	VoiceBaseURL string
	// ChatBaseURL is the base URL of the language-model backend used by the
	// event-stream transport.
	ChatBaseURL string
	// Model is the default model name for event-stream turns.
	Model string

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	RequestTimeout    time.Duration

	// GreetingMaxLen is the length threshold below which a first agent
	// message is checked against the default-greeting markers.
	GreetingMaxLen int
}

// fileSettings is the YAML shape; intervals are plain integers so the file
// stays editable without duration-literal syntax.
type fileSettings struct {
	VoiceBaseURL         string `yaml:"voice_base_url"`
	ChatBaseURL          string `yaml:"chat_base_url"`
	Model                string `yaml:"model"`
	HeartbeatIntervalSec int    `yaml:"heartbeat_interval_sec"`
	ReconnectDelayMs     int    `yaml:"reconnect_delay_ms"`
	DialTimeoutSec       int    `yaml:"dial_timeout_sec"`
	RequestTimeoutSec    int    `yaml:"request_timeout_sec"`
	GreetingMaxLen       int    `yaml:"greeting_max_len"`
}

func DefaultSettings() Settings {
	s := Settings{}
	s.ApplyDefaults()
	return s
}

func (s *Settings) ApplyDefaults() {
	if s.VoiceBaseURL == "" {
		s.VoiceBaseURL = "https://api.knowloop.ai"
	}
	if s.ChatBaseURL == "" {
		s.ChatBaseURL = "https://api.knowloop.ai"
	}
	if s.Model == "" {
		s.Model = "gpt-4o-mini"
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 30 * time.Second
	}
	if s.ReconnectDelay <= 0 {
		s.ReconnectDelay = time.Second
	}
	if s.DialTimeout <= 0 {
		s.DialTimeout = 10 * time.Second
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 30 * time.Second
	}
	if s.GreetingMaxLen <= 0 {
		s.GreetingMaxLen = 160
	}
}

// Load reads settings from a YAML file and applies defaults for anything
// the file leaves unset.
func Load(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "read settings file %s", path)
	}
	fs := fileSettings{}
	if err := yaml.Unmarshal(b, &fs); err != nil {
		return Settings{}, errors.Wrapf(err, "parse settings file %s", path)
	}
	s := Settings{
		VoiceBaseURL:      fs.VoiceBaseURL,
		ChatBaseURL:       fs.ChatBaseURL,
		Model:             fs.Model,
		HeartbeatInterval: time.Duration(fs.HeartbeatIntervalSec) * time.Second,
		ReconnectDelay:    time.Duration(fs.ReconnectDelayMs) * time.Millisecond,
		DialTimeout:       time.Duration(fs.DialTimeoutSec) * time.Second,
		RequestTimeout:    time.Duration(fs.RequestTimeoutSec) * time.Second,
		GreetingMaxLen:    fs.GreetingMaxLen,
	}
	s.ApplyDefaults()
	return s, nil
}
