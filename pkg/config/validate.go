package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
	"fatal": true,
	"panic": true,
}

// ValidateAndEnforceDefaults checks the settings in place. Malformed optional
// values are replaced with their defaults and reported as warnings; an
// unusable backend or control URL is an error.
func ValidateAndEnforceDefaults(s *Settings) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}

	var warnings []string

	if err := validateURL(s.BackendURL, "http", "https"); err != nil {
		return nil, fmt.Errorf("invalid URL provided for backend_url: %w", err)
	}
	s.BackendURL = strings.TrimRight(s.BackendURL, "/")

	if err := validateURL(s.ControlURL, "ws", "wss"); err != nil {
		return nil, fmt.Errorf("invalid URL provided for control_url: %w", err)
	}

	if s.StateDir == "" {
		s.StateDir = DefaultStateDir
	}

	if s.Log.Level == "" {
		s.Log.Level = zerolog.LevelInfoValue
	} else if !validLogLevels[strings.ToLower(s.Log.Level)] {
		warnings = append(warnings, fmt.Sprintf(
			"invalid log.level '%s' provided. Valid options are: info, debug, panic, error, warn, fatal. Defaulting to 'info'.",
			s.Log.Level,
		))
		s.Log.Level = zerolog.LevelInfoValue
	}

	if s.Registration.Attempts < 1 {
		warnings = append(warnings, fmt.Sprintf("invalid registration.attempts %d, using default %d", s.Registration.Attempts, DefaultRegistrationAttempts))
		s.Registration.Attempts = DefaultRegistrationAttempts
	}

	warnings = enforcePositive(warnings, "registration.delay", &s.Registration.Delay, DefaultRegistrationDelay)
	warnings = enforcePositive(warnings, "control.reconnect_delay", &s.Control.ReconnectDelay, DefaultReconnectDelay)
	warnings = enforcePositive(warnings, "control.not_registered_delay", &s.Control.NotRegisteredDelay, DefaultNotRegisteredDelay)
	warnings = enforcePositive(warnings, "control.unauthorized_delay", &s.Control.UnauthorizedDelay, DefaultUnauthorizedDelay)
	warnings = enforcePositive(warnings, "http.timeout", &s.HTTP.Timeout, DefaultHTTPTimeout)

	if prefix := normalizePrefix(s.Ops.Prefix); prefix != s.Ops.Prefix {
		warnings = append(warnings, fmt.Sprintf("ops.prefix '%s' normalized to '%s'", s.Ops.Prefix, prefix))
		s.Ops.Prefix = prefix
	}

	if s.MDNS.Service == "" {
		s.MDNS.Service = DefaultMDNSService
	}

	if !isValidCronExpression(s.Report.Interval) {
		warnings = append(warnings, fmt.Sprintf("invalid schedule provided for report.interval, using default schedule %s", DefaultReportCronExpr))
		s.Report.Interval = DefaultReportCronExpr
	}

	if s.TLS.SkipVerify {
		warnings = append(warnings, "tls.skip_verify is set, backend certificates are not verified")
	}

	return warnings, nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q, expected one of %s", u.Scheme, strings.Join(schemes, ", "))
}

func enforcePositive(warnings []string, key string, d *time.Duration, def time.Duration) []string {
	if *d > 0 {
		return warnings
	}
	*d = def
	return append(warnings, fmt.Sprintf("invalid %s provided, using default %s", key, def))
}

// isValidCronExpression checks the validity of a cron expression. Only the
// "@every <duration>" form is accepted since the scheduler runs on a ticker.
func isValidCronExpression(cronExpression string) bool {
	if !strings.HasPrefix(cronExpression, "@every ") {
		return false
	}
	if _, err := cron.ParseStandard(cronExpression); err != nil {
		return false
	}
	return true
}

// normalizePrefix returns a route prefix with a leading slash and no
// trailing slash, or "" for the root.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}
