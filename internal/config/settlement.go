package config

import (
	"os"
	"strconv"
	"time"
)

type SettlementConfig struct {
	DefaultUnitPrice int
	ReceiptURLTTL    time.Duration
}

func LoadSettlementConfig() *SettlementConfig {
	return &SettlementConfig{
		DefaultUnitPrice: getEnvAsInt("SETTLEMENT_UNIT_PRICE", 8000),
		ReceiptURLTTL:    getEnvAsDuration("RECEIPT_URL_TTL", 10*time.Minute),
	}
}

type SessionConfig struct {
	CookieName       string
	TokenTTL         time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
}

func LoadSessionConfig() *SessionConfig {
	return &SessionConfig{
		CookieName:       getEnv("SESSION_COOKIE_NAME", "ongi_session"),
		TokenTTL:         getEnvAsDuration("SESSION_TOKEN_TTL", 7*24*time.Hour),
		LockoutThreshold: getEnvAsInt("LOGIN_LOCKOUT_THRESHOLD", 3),
		LockoutDuration:  getEnvAsDuration("LOGIN_LOCKOUT_DURATION", 5*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
