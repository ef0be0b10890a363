package database

import (
	"errors"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	// DriverPrefix is the URL scheme pgx parses natively.
	DriverPrefix = "postgresql://"
	aliasPrefix  = "postgres://"
)

// ErrNotConfigured is returned when no connection URL was supplied.
var ErrNotConfigured = errors.New("DATABASE_URL is not configured")

// Database is the resolved, driver-ready connection descriptor. It is built once
// at startup and never mutated.
type Database struct {
	dsn string
}

func New(connectionURL string, logger *zap.Logger) (*Database, error) {
	connectionURL = strings.TrimSpace(connectionURL)
	if connectionURL == "" {
		return nil, ErrNotConfigured
	}

	return &Database{dsn: Normalize(connectionURL, logger)}, nil
}

// DSN returns the connection string handed to the driver.
func (d *Database) DSN() string {
	if d == nil {
		return ""
	}
	return d.dsn
}

// Normalize rewrites a postgres:// or postgresql:// URL into the form pgx expects,
// moving user and password out of the authority into query parameters. Anything it
// does not recognise, cannot parse, or that lists several hosts is returned unchanged.
func Normalize(raw string, logger *zap.Logger) string {
	if isKeywordValueDSN(raw) {
		return raw
	}

	candidate := raw
	if strings.HasPrefix(candidate, aliasPrefix) {
		candidate = DriverPrefix + strings.TrimPrefix(candidate, aliasPrefix)
	}
	if !strings.HasPrefix(candidate, DriverPrefix) {
		return raw
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		if logger != nil {
			logger.Warn("Failed to normalize connection URL, using it unchanged", zap.Error(redact(err)))
		}
		return raw
	}
	// multi-host authorities have no single host:port to rebuild
	if strings.Contains(parsed.Host, ",") {
		return raw
	}

	var b strings.Builder
	b.WriteString(DriverPrefix)
	b.WriteString(hostPort(parsed))
	b.WriteString(parsed.EscapedPath())

	var params []string
	if parsed.User != nil {
		// user-info without a colon carries neither user nor password
		if password, ok := parsed.User.Password(); ok {
			params = append(params, "user="+url.QueryEscape(parsed.User.Username()))
			params = append(params, "password="+url.QueryEscape(password))
		}
	}
	if parsed.RawQuery != "" {
		params = append(params, parsed.RawQuery)
	}
	if len(params) > 0 {
		b.WriteString("?")
		b.WriteString(strings.Join(params, "&"))
	}

	return b.String()
}

func hostPort(u *url.URL) string {
	host := u.Hostname()
	if port := u.Port(); port != "" {
		return net.JoinHostPort(host, port)
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "[" + host + "]"
	}
	return host
}

// isKeywordValueDSN reports whether s is a libpq keyword/value string such as
// "host=localhost dbname=catalog".
func isKeywordValueDSN(s string) bool {
	return !strings.Contains(s, "://") && strings.Contains(s, "=")
}

// redact drops the URL from a *url.Error so credentials never reach the logs.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
