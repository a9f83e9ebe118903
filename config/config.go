// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can attach to a locally running client with no setup.
// For launching the client or posting announcements, use ValidateLaunch and ValidateAnnounce.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Client process
	TeamsExecutable string   `env:"TEAMS_EXECUTABLE"`
	TeamsArgs       []string `env:"TEAMS_ARGS" envSeparator:" "`
	TeamsDebugPort  int      `env:"TEAMS_DEBUG_PORT" envDefault:"9222"`
	TeamsLaunch     bool     `env:"TEAMS_LAUNCH" envDefault:"false"`

	// Target discovery
	DiscoveryURL    string `env:"DISCOVERY_URL" envDefault:"http://127.0.0.1:9222"`
	TargetType      string `env:"TARGET_TYPE" envDefault:"shared_worker"`
	TargetURLMarker string `env:"TARGET_URL_MARKER" envDefault:"trouter"`

	// Frame prefix
	FrameMarker         string `env:"FRAME_MARKER" envDefault:"3"`
	FrameDelimiter      string `env:"FRAME_DELIMITER" envDefault:":"`
	FrameDelimiterCount int    `env:"FRAME_DELIMITER_COUNT" envDefault:"3"`
	FrameBodyField      string `env:"FRAME_BODY_FIELD" envDefault:"body"`

	// Session
	WarmupDelay         time.Duration `env:"WARMUP_DELAY" envDefault:"5s"`
	ReconnectMaxBackoff time.Duration `env:"RECONNECT_MAX_BACKOFF" envDefault:"30s"`

	// Credentials
	TokenExpression         string        `env:"TOKEN_EXPRESSION"`
	AuthzURL                string        `env:"AUTHZ_URL" envDefault:"https://teams.microsoft.com/api/authsvc/v1.0/authz"`
	ExtractTimeout          time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"5s"`
	CredentialMargin        time.Duration `env:"CREDENTIAL_MARGIN" envDefault:"60s"`
	CredentialCheckInterval time.Duration `env:"CREDENTIAL_CHECK_INTERVAL" envDefault:"1m"`

	// Chat service
	ChatServiceURL string        `env:"CHAT_SERVICE_URL" envDefault:"https://teams.microsoft.com/api/chatsvc/amer/v1"`
	APITimeout     time.Duration `env:"API_TIMEOUT" envDefault:"4s"`

	// Meetings
	MeetingWindow time.Duration `env:"MEETING_WINDOW" envDefault:"60s"`
	BotIDPrefix   string        `env:"BOT_ID_PREFIX" envDefault:"28:"`

	// Bot
	AnnounceChannel   string        `env:"ANNOUNCE_CHANNEL"`
	ClassSchedule     string        `env:"CLASS_SCHEDULE"`
	ClassReminderLead time.Duration `env:"CLASS_REMINDER_LEAD" envDefault:"5m"`

	// HTTP
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
}

// Load reads environment variables and applies defaults. Missing optional
// variables disable features (e.g. an empty CLASS_SCHEDULE disables reminders).
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.FrameMarker) != 1 {
		return nil, fmt.Errorf("invalid FRAME_MARKER %q: want a single character", cfg.FrameMarker)
	}
	if len(cfg.FrameDelimiter) != 1 {
		return nil, fmt.Errorf("invalid FRAME_DELIMITER %q: want a single character", cfg.FrameDelimiter)
	}
	if cfg.MeetingWindow <= 0 {
		return nil, fmt.Errorf("invalid MEETING_WINDOW %s: must be positive", cfg.MeetingWindow)
	}
	return cfg, nil
}

// ValidateLaunch checks required fields when the client is to be launched by this process.
func (c *Config) ValidateLaunch() error {
	if !c.TeamsLaunch {
		return nil
	}
	if c.TeamsExecutable == "" {
		return fmt.Errorf("missing client env: TEAMS_LAUNCH requires TEAMS_EXECUTABLE")
	}
	return nil
}

// ValidateAnnounce checks that scheduled reminders have somewhere to go.
func (c *Config) ValidateAnnounce() error {
	if strings.TrimSpace(c.ClassSchedule) != "" && c.AnnounceChannel == "" {
		return fmt.Errorf("missing bot env: CLASS_SCHEDULE requires ANNOUNCE_CHANNEL")
	}
	return nil
}
