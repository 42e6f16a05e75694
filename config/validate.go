package config

import (
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap/zapcore"

	"price-dashboard/market"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if err := validateURL("feed.apiURL", cfg.Feed.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("feed.wsURL", cfg.Feed.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if cfg.Feed.ReconnectDelayMs <= 0 {
		return errors.New("feed.reconnectDelayMs must be > 0")
	}
	if cfg.Feed.InitialDelayMs < 0 {
		return errors.New("feed.initialDelayMs must be >= 0")
	}
	if cfg.Feed.FetchTimeoutMs < 0 || cfg.Feed.HandshakeTimeoutMs < 0 {
		return errors.New("feed timeouts must be >= 0")
	}
	if cfg.Feed.ReadTimeoutMs < 0 || cfg.Feed.PingIntervalMs < 0 {
		return errors.New("feed.readTimeoutMs/pingIntervalMs must be >= 0")
	}
	if cfg.Feed.ReadTimeoutMs > 0 && cfg.Feed.PingIntervalMs >= cfg.Feed.ReadTimeoutMs {
		return errors.New("feed.pingIntervalMs must be < readTimeoutMs")
	}
	if cfg.Alert.DisconnectAfterMs < 0 || cfg.Alert.ThrottleMs < 0 {
		return errors.New("alert.disconnectAfterMs/throttleMs must be >= 0")
	}
	if cfg.Alert.DisconnectAfterMs > 0 && cfg.Alert.CheckIntervalMs <= 0 {
		return errors.New("alert.checkIntervalMs must be > 0 when disconnect alerts are enabled")
	}
	if cfg.Server.ListenAddr == "" {
		return errors.New("server.listenAddr is required")
	}
	if _, err := market.ParseFilter(cfg.Server.DefaultFilter); err != nil {
		return fmt.Errorf("server.defaultFilter: %w", err)
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %v, got %q", field, schemes, u.Scheme)
}
