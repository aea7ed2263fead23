package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Printer identifies one printer station and the port its listener binds.
type Printer struct {
	Name string `json:"name"`
	Port uint16 `json:"port"`
}

// AgentConfig is the record persisted after the first successful registration.
// A nil Printers slice means the station list is not known yet.
type AgentConfig struct {
	DeviceID    string    `json:"deviceId"`
	IP          string    `json:"ip"`
	PairingCode string    `json:"pairingCode"`
	Printers    []Printer `json:"printers"`
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	JSON      bool   `mapstructure:"json"`
	AuditFile string `mapstructure:"audit_file"`
}

type RegistrationConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

type ControlConfig struct {
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	NotRegisteredDelay time.Duration `mapstructure:"not_registered_delay"`
	UnauthorizedDelay  time.Duration `mapstructure:"unauthorized_delay"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type StateConfig struct {
	PersistUpdates bool `mapstructure:"persist_updates"`
}

type IdentityConfig struct {
	HostnameSalt bool `mapstructure:"hostname_salt"`
}

type OpsConfig struct {
	Address string `mapstructure:"address"`
	// Prefix is prepended to the health, metrics and pprof routes.
	Prefix string `mapstructure:"prefix"`
}

type MDNSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service"`
}

// TLSConfig applies to both the backend API and the control channel.
type TLSConfig struct {
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	SkipVerify bool   `mapstructure:"skip_verify"`
}

type ReportConfig struct {
	Interval string `mapstructure:"interval"`
}

// Settings holds the operator-supplied runtime settings. They come from an
// optional settings file, PRINT_BRIDGE_* environment variables and CLI flags.
type Settings struct {
	BackendURL   string             `mapstructure:"backend_url"`
	ControlURL   string             `mapstructure:"control_url"`
	StateDir     string             `mapstructure:"state_dir"`
	BindAddress  string             `mapstructure:"bind_address"`
	Log          LogConfig          `mapstructure:"log"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Control      ControlConfig      `mapstructure:"control"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	State        StateConfig        `mapstructure:"state"`
	Identity     IdentityConfig     `mapstructure:"identity"`
	Ops          OpsConfig          `mapstructure:"ops"`
	MDNS         MDNSConfig         `mapstructure:"mdns"`
	Report       ReportConfig       `mapstructure:"report"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// NewViper returns a viper instance with every default registered and
// environment lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("backend_url", DefaultBackendURL)
	v.SetDefault("control_url", DefaultControlURL)
	v.SetDefault("state_dir", DefaultStateDir)
	v.SetDefault("bind_address", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.audit_file", "")
	v.SetDefault("registration.attempts", DefaultRegistrationAttempts)
	v.SetDefault("registration.delay", DefaultRegistrationDelay)
	v.SetDefault("control.reconnect_delay", DefaultReconnectDelay)
	v.SetDefault("control.not_registered_delay", DefaultNotRegisteredDelay)
	v.SetDefault("control.unauthorized_delay", DefaultUnauthorizedDelay)
	v.SetDefault("http.timeout", DefaultHTTPTimeout)
	v.SetDefault("state.persist_updates", true)
	v.SetDefault("identity.hostname_salt", false)
	v.SetDefault("ops.address", DefaultOpsAddress)
	v.SetDefault("ops.prefix", "")
	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.service", DefaultMDNSService)
	v.SetDefault("report.interval", DefaultReportCronExpr)
	v.SetDefault("tls.ca_file", "")
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.skip_verify", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadSettings reads the settings file at path into v when path is set,
// decodes the result and validates it.
func LoadSettings(v *viper.Viper, path string) (*Settings, []string, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("error reading settings file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, nil, fmt.Errorf("error decoding settings: %w", err)
	}

	warnings, err := ValidateAndEnforceDefaults(&s)
	if err != nil {
		return nil, warnings, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, warnings, nil
}
