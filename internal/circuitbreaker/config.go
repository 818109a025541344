package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// RedisSettings reads the session-store breaker knobs from CB_REDIS_*.
func RedisSettings() Settings {
	return fromEnv("CB_REDIS", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

// DatabaseSettings reads the conversation-store breaker knobs from CB_DB_*.
func DatabaseSettings() Settings {
	return fromEnv("CB_DB", Settings{
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	})
}

// HTTPSettings reads the analyzer-service breaker knobs from CB_HTTP_*.
func HTTPSettings() Settings {
	return fromEnv("CB_HTTP", Settings{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	})
}

func fromEnv(prefix string, s Settings) Settings {
	s.MaxRequests = envUint32(prefix+"_MAX_REQUESTS", s.MaxRequests)
	s.Interval = envDuration(prefix+"_INTERVAL", s.Interval)
	s.Timeout = envDuration(prefix+"_TIMEOUT", s.Timeout)
	s.FailureThreshold = envUint32(prefix+"_FAILURE_THRESHOLD", s.FailureThreshold)
	s.SuccessThreshold = envUint32(prefix+"_SUCCESS_THRESHOLD", s.SuccessThreshold)
	return s
}

func envUint32(key string, def uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
