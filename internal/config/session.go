package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Defaults applied to zero values of a session config.
const (
	DefaultPageSize          = 20
	DefaultInvokeTimeout     = 10 * time.Second
	DefaultSendTimeout       = 15 * time.Second
	DefaultSeenDwell         = time.Second
	DefaultVisibilityRatio   = 0.8
	DefaultRequestsPerSecond = 10
)

// SessionConfig is a session's sessions/<name>/session.toml.
type SessionConfig struct {
	ServerURL         string  `toml:"server_url"`
	APIURL            string  `toml:"api_url"`
	AccessToken       string  `toml:"access_token"`
	UserID            string  `toml:"user_id"`
	PageSize          int     `toml:"page_size"`
	InvokeTimeout     string  `toml:"invoke_timeout"`
	SendTimeout       string  `toml:"send_timeout"`
	SeenDwell         string  `toml:"seen_dwell"`
	VisibilityRatio   float64 `toml:"visibility_ratio"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MetricsAddr       string  `toml:"metrics_addr,omitempty"`
	OTLPEndpoint      string  `toml:"otlp_endpoint,omitempty"`
}

// Session is a validated session config with parsed durations.
type Session struct {
	ServerURL         string
	APIURL            string
	AccessToken       string
	UserID            string
	PageSize          int
	InvokeTimeout     time.Duration
	SendTimeout       time.Duration
	SeenDwell         time.Duration
	VisibilityRatio   float64
	RequestsPerSecond float64
	MetricsAddr       string
	OTLPEndpoint      string
}

// LoadSession reads and resolves a session config.
func LoadSession(path string) (*Session, error) {
	raw, err := decodeFile[SessionConfig](path)
	if err != nil {
		return nil, err
	}
	return raw.Resolve()
}

// Resolve validates c, applies defaults and derives the user id from the
// access token when it is not set.
func (c SessionConfig) Resolve() (*Session, error) {
	if err := checkURL("server_url", c.ServerURL, "ws", "wss"); err != nil {
		return nil, err
	}
	if err := checkURL("api_url", c.APIURL, "http", "https"); err != nil {
		return nil, err
	}

	s := &Session{
		ServerURL:         c.ServerURL,
		APIURL:            c.APIURL,
		AccessToken:       c.AccessToken,
		UserID:            c.UserID,
		PageSize:          c.PageSize,
		VisibilityRatio:   c.VisibilityRatio,
		RequestsPerSecond: c.RequestsPerSecond,
		MetricsAddr:       c.MetricsAddr,
		OTLPEndpoint:      c.OTLPEndpoint,
	}
	var err error
	if s.InvokeTimeout, err = duration("invoke_timeout", c.InvokeTimeout, DefaultInvokeTimeout); err != nil {
		return nil, err
	}
	if s.SendTimeout, err = duration("send_timeout", c.SendTimeout, DefaultSendTimeout); err != nil {
		return nil, err
	}
	if s.SeenDwell, err = duration("seen_dwell", c.SeenDwell, DefaultSeenDwell); err != nil {
		return nil, err
	}
	if s.PageSize <= 0 {
		s.PageSize = DefaultPageSize
	}
	if s.VisibilityRatio <= 0 {
		s.VisibilityRatio = DefaultVisibilityRatio
	}
	if s.VisibilityRatio > 1 {
		return nil, fmt.Errorf("visibility_ratio %v: must be in (0, 1]", s.VisibilityRatio)
	}
	if s.RequestsPerSecond <= 0 {
		s.RequestsPerSecond = DefaultRequestsPerSecond
	}

	if s.UserID == "" {
		if s.UserID, err = SubjectOf(s.AccessToken); err != nil {
			return nil, fmt.Errorf("user_id not set and %w", err)
		}
	}
	return s, nil
}

// SubjectOf reads the sub claim of a JWT without verifying its signature.
func SubjectOf(token string) (string, error) {
	if token == "" {
		return "", errors.New("access_token is empty")
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("access_token is not a JWT: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("access_token has no sub claim")
	}
	return claims.Subject, nil
}

func duration(key, v string, def time.Duration) (time.Duration, error) {
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, v)
	}
	return d, nil
}

func checkURL(key, v string, schemes ...string) error {
	if v == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s %q: want a %v url", key, v, schemes)
}
