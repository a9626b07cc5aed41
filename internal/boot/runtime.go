// Package boot provides runtime configuration and dependency wiring.
package boot

import (
	"errors"
	"os"
	"time"

	"github.com/agrodiag/agrodiag/internal/config"
)

// RuntimeConfig holds parsed runtime settings (server address, session expiry
// and sweep cadence). Values may be overridden by environment variables
// (e.g. HTTP_ADDR).
type RuntimeConfig struct {
	ServerAddr     string
	SessionTTL     time.Duration
	SweepInterval  time.Duration
	DedupRetention time.Duration
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	ret := &RuntimeConfig{
		ServerAddr:     cfg.Server.Addr,
		SessionTTL:     cfg.Session.TTLDuration(),
		SweepInterval:  cfg.Session.SweepIntervalDuration(),
		DedupRetention: cfg.Session.DedupRetentionDuration(),
	}
	if ret.SessionTTL <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	if ret.SweepInterval <= 0 {
		return nil, errors.New("sweep interval must be positive")
	}

	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	return ret, nil
}
