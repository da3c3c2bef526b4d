// Package config validates and loads the focus process's environment
// configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for a focus instance.
type Config struct {
	// Required variables
	Port        string
	XmppDomain  string
	BridgeAddrs string // comma-separated list of videobridge control addresses

	// Optional variables with defaults
	GoEnv    string
	LogLevel string

	// Conference defaults (spec.md §6 "Configuration surface")
	IdleTimeout             time.Duration
	SingleParticipantTimeout time.Duration
	MinParticipants         int
	MaxSourcesPerUser       int
	StartAudioMuted         int  // threshold; 0 means absent
	StartVideoMuted         int  // threshold; 0 means absent
	StartAudioMutedFlag     bool // moderator-set startMuted[audio] default for late arrivals
	StartVideoMutedFlag     bool // moderator-set startMuted[video] default for late arrivals
	EnableAutoOwner         bool
	UseRoomAsSharedDocName  bool
	EnforcedVideobridge     string // JID, empty means absent
	LipSyncEnabled          bool
	JicofoShortID           uint16 // 0 is "unconfigured", allowed with a warning

	// Redis (optional cross-process GID leasing, internal/registryredis)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Authentication authority (optional)
	AuthEnabled    bool
	Auth0Domain    string
	Auth0Audience  string

	// IQ-surface throttling (internal/iqthrottle)
	RateLimitMuteIQ string
	RateLimitDialIQ string

	// Recorder/gateway capability (optional; internal/gateway)
	RecordingControllerURL string
	SipGatewayAddr         string
}

// ValidateEnv validates all required environment variables and returns a
// Config, or a single error collecting every validation failure.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// Required: XMPP_DOMAIN
	cfg.XmppDomain = os.Getenv("XMPP_DOMAIN")
	if cfg.XmppDomain == "" {
		errors = append(errors, "XMPP_DOMAIN is required")
	}

	// Required: BRIDGE_ADDRS (comma-separated host:port list)
	cfg.BridgeAddrs = os.Getenv("BRIDGE_ADDRS")
	if cfg.BridgeAddrs == "" {
		errors = append(errors, "BRIDGE_ADDRS is required")
	} else {
		for _, addr := range strings.Split(cfg.BridgeAddrs, ",") {
			if !isValidHostPort(strings.TrimSpace(addr)) {
				errors = append(errors, fmt.Sprintf("BRIDGE_ADDRS entry must be in format 'host:port' (got '%s')", addr))
			}
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Conditional: auth authority
	cfg.AuthEnabled = os.Getenv("AUTH_ENABLED") == "true"
	if cfg.AuthEnabled {
		cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
		cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			errors = append(errors, "AUTH0_DOMAIN and AUTH0_AUDIENCE are required when AUTH_ENABLED=true")
		}
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.IdleTimeout = getEnvDurationOrDefault("IDLE_TIMEOUT_MS", 15_000)
	cfg.SingleParticipantTimeout = getEnvDurationOrDefault("SINGLE_PARTICIPANT_TIMEOUT_MS", 20_000)
	cfg.MinParticipants = getEnvIntOrDefault("MIN_PARTICIPANTS", 2)
	cfg.MaxSourcesPerUser = getEnvIntOrDefault("MAX_SOURCES_PER_USER", 20)
	cfg.StartAudioMuted = getEnvIntOrDefault("START_AUDIO_MUTED", 0)
	cfg.StartVideoMuted = getEnvIntOrDefault("START_VIDEO_MUTED", 0)
	cfg.StartAudioMutedFlag = os.Getenv("START_AUDIO_MUTED_FLAG") == "true"
	cfg.StartVideoMutedFlag = os.Getenv("START_VIDEO_MUTED_FLAG") == "true"
	cfg.EnableAutoOwner = os.Getenv("ENABLE_AUTO_OWNER") != "false"
	cfg.UseRoomAsSharedDocName = os.Getenv("USE_ROOM_AS_SHARED_DOC_NAME") == "true"
	cfg.EnforcedVideobridge = os.Getenv("ENFORCED_VIDEOBRIDGE")
	cfg.LipSyncEnabled = os.Getenv("LIP_SYNC_ENABLED") == "true"

	shortID := getEnvIntOrDefault("JICOFO_SHORT_ID", 0)
	if shortID < 0 || shortID > 65535 {
		errors = append(errors, fmt.Sprintf("JICOFO_SHORT_ID must be between 0 and 65535 (got %d)", shortID))
	} else {
		cfg.JicofoShortID = uint16(shortID)
		if cfg.JicofoShortID == 0 {
			slog.Warn("JICOFO_SHORT_ID not set; GIDs will use the reserved 'unconfigured' short id 0")
		}
	}

	cfg.RateLimitMuteIQ = getEnvOrDefault("RATE_LIMIT_MUTE_IQ", "30-M")
	cfg.RateLimitDialIQ = getEnvOrDefault("RATE_LIMIT_DIAL_IQ", "10-M")

	cfg.RecordingControllerURL = os.Getenv("RECORDING_CONTROLLER_URL")
	cfg.SipGatewayAddr = os.Getenv("SIP_GATEWAY_ADDR")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"port", cfg.Port,
		"xmpp_domain", cfg.XmppDomain,
		"bridge_addrs", cfg.BridgeAddrs,
		"redis_enabled", cfg.RedisEnabled,
		"auth_enabled", cfg.AuthEnabled,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"idle_timeout", cfg.IdleTimeout,
		"min_participants", cfg.MinParticipants,
		"max_sources_per_user", cfg.MaxSourcesPerUser,
		"jicofo_short_id", cfg.JicofoShortID,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDurationOrDefault(key string, defaultMillis int) time.Duration {
	return time.Duration(getEnvIntOrDefault(key, defaultMillis)) * time.Millisecond
}
