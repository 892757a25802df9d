package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default cap on a single WebSocket frame. Image messages carry inline
// base64 payloads, so this is well above a text-chat frame size.
const defaultMaxFrameSize = 4 << 20

// Config holds the application configuration
type Config struct {
	DatabaseURL    string
	Port           string
	JWTSecret      string
	OTPSalt        string
	DevMode        bool
	AllowedOrigins []string
	MaxFrameSize   int64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:         "8080", // default port
		MaxFrameSize: defaultMaxFrameSize,
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg.OTPSalt = os.Getenv("OTP_SALT")
	if cfg.OTPSalt == "" {
		return nil, fmt.Errorf("OTP_SALT environment variable is required")
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	// Comma-separated origin allowlist for the WebSocket endpoints. Empty
	// means allow all; native clients send no Origin header either way.
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if raw := os.Getenv("MAX_FRAME_SIZE"); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("MAX_FRAME_SIZE must be a positive integer, got %q", raw)
		}
		cfg.MaxFrameSize = size
	}

	return cfg, nil
}
