package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"

	"github.com/angeloszaimis/edge-gateway/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// LoadBalancedScheme prefixes route URIs that name a configured backend.
const LoadBalancedScheme = "lb"

var backendNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	Environment     string `mapstructure:"environment"`
	ReadTimeout     string `mapstructure:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout"`
	IdleTimeout     string `mapstructure:"idle_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

type CircuitBreakerConfig struct {
	FailureThreshold  int    `mapstructure:"failure_threshold"`
	RecoveryTimeout   string `mapstructure:"recovery_timeout"`
	HalfOpenMaxTrials int    `mapstructure:"half_open_max_trials"`
}

type GatewayConfig struct {
	ForwardTimeout    string               `mapstructure:"forward_timeout"`
	OpenPaths         []string             `mapstructure:"open_paths"`
	TripOnServerError bool                 `mapstructure:"trip_on_server_error"`
	CircuitBreaker    CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type TransportConfig struct {
	DialTimeout         string `mapstructure:"dial_timeout"`
	MaxIdleConnsPerHost int    `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     string `mapstructure:"idle_conn_timeout"`
}

type HealthCheckConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
	Timeout  string `mapstructure:"timeout"`
	Path     string `mapstructure:"path"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           string   `mapstructure:"max_age"`
}

type InstanceConfig struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

// BackendConfig declares a logical backend addressed by lb://<name>.
type BackendConfig struct {
	Name         string           `mapstructure:"name"`
	Strategy     string           `mapstructure:"strategy"`
	VirtualNodes int              `mapstructure:"virtual_nodes"`
	Instances    []InstanceConfig `mapstructure:"instances"`
}

type RewriteConfig struct {
	Pattern     string `mapstructure:"pattern"`
	Replacement string `mapstructure:"replacement"`
}

// RouteConfig maps one or more path patterns to a target URI.
type RouteConfig struct {
	ID      string         `mapstructure:"id"`
	Paths   []string       `mapstructure:"paths"`
	Backend string         `mapstructure:"backend"`
	URI     string         `mapstructure:"uri"`
	Rewrite *RewriteConfig `mapstructure:"rewrite"`
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Transport   TransportConfig   `mapstructure:"transport"`
	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Backends    []BackendConfig   `mapstructure:"backends"`
	Routes      []RouteConfig     `mapstructure:"routes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.address", ":9090")

	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("gateway.forward_timeout", "30s")
	v.SetDefault("gateway.trip_on_server_error", false)
	v.SetDefault("gateway.open_paths", []string{
		"/api/auth/login",
		"/api/auth/validate-token",
		"/actuator/health",
		"/actuator/info",
		"/eureka",
	})
	v.SetDefault("gateway.circuit_breaker.failure_threshold", 5)
	v.SetDefault("gateway.circuit_breaker.recovery_timeout", "1m")
	v.SetDefault("gateway.circuit_breaker.half_open_max_trials", 3)

	v.SetDefault("transport.dial_timeout", "5s")
	v.SetDefault("transport.max_idle_conns_per_host", 32)
	v.SetDefault("transport.idle_conn_timeout", "90s")

	v.SetDefault("health_check.enabled", true)
	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("health_check.timeout", "2s")
	v.SetDefault("health_check.path", "/actuator/health")

	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "HEAD", "PATCH"})
	v.SetDefault("cors.allowed_headers", []string{"*"})
	v.SetDefault("cors.max_age", "1h")
}

// Load reads config.yaml from the given directories, or from ./config and
// the working directory when none are given. Environment variables
// override file values, with dots replaced by underscores.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address, validation.Required, validation.By(validateHostPort)),
					validation.Field(&sc.ReadTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.WriteTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.IdleTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.ShutdownTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Admin,
			validation.By(func(value interface{}) error {
				ac, ok := value.(AdminConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an AdminConfig")
				}
				return validation.ValidateStruct(&ac,
					validation.Field(&ac.Address,
						validation.When(ac.Enabled, validation.Required, validation.By(validateHostPort)),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Gateway,
			validation.Required,
			validation.By(func(value interface{}) error {
				gc, ok := value.(GatewayConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a GatewayConfig")
				}
				cb := gc.CircuitBreaker
				return validation.Errors{
					"forward_timeout": validation.Validate(gc.ForwardTimeout, validation.Required, validation.By(validateDuration)),
					"open_paths":      validation.Validate(gc.OpenPaths, validation.Each(validation.By(validatePathPattern))),
					"circuit_breaker": validation.ValidateStruct(&cb,
						validation.Field(&cb.FailureThreshold, validation.Required, validation.Min(1)),
						validation.Field(&cb.RecoveryTimeout, validation.Required, validation.By(validateDuration)),
						validation.Field(&cb.HalfOpenMaxTrials, validation.Required, validation.Min(1)),
					),
				}.Filter()
			}),
		),
		validation.Field(&c.Transport,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TransportConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TransportConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.DialTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&tc.IdleConnTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&tc.MaxIdleConnsPerHost, validation.Min(0)),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.When(hc.Enabled, validation.Required, validation.By(validateDuration))),
					validation.Field(&hc.Timeout, validation.When(hc.Enabled, validation.Required, validation.By(validateDuration))),
					validation.Field(&hc.Path, validation.When(hc.Enabled, validation.Required, validation.By(validatePathPattern))),
				)
			}),
		),
		validation.Field(&c.CORS,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CORSConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CORSConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.AllowedOrigins, validation.Each(validation.By(validateOrigin))),
					validation.Field(&cc.MaxAge, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Each(validation.By(validateBackendConfig)),
		),
		validation.Field(&c.Routes,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateRouteConfig)),
		),
	)
	if err != nil {
		return err
	}

	return c.validateReferences()
}

// validateReferences checks rules spanning several sections.
func (c *Config) validateReferences() error {
	errs := validation.Errors{}

	if c.Server.WriteTimeoutDuration() <= c.Gateway.ForwardTimeoutDuration() {
		errs["server.write_timeout"] = validation.NewError("validation_timeout_order",
			"must exceed gateway.forward_timeout so fault responses can still be written")
	}

	names := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if names[b.Name] {
			errs["backends."+b.Name] = validation.NewError("validation_duplicate_backend", "backend name must be unique")
		}
		names[b.Name] = true
	}

	ids := make(map[string]bool, len(c.Routes))
	for _, r := range c.Routes {
		if ids[r.ID] {
			errs["routes."+r.ID] = validation.NewError("validation_duplicate_route", "route id must be unique")
		}
		ids[r.ID] = true

		u, _ := url.Parse(r.URI)
		if u.Scheme == LoadBalancedScheme && !names[u.Host] {
			errs["routes."+r.ID+".uri"] = validation.NewError("validation_unknown_backend",
				fmt.Sprintf("backend %q is not configured", u.Host))
		}
	}

	return errs.Filter()
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if durationStr == "" {
		return nil
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validatePathPattern(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if !strings.HasPrefix(p, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}
	return nil
}

func validateOrigin(value interface{}) error {
	origin, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if origin == "*" {
		return nil
	}
	return validateServerURL(origin)
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "server URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	return validation.ValidateStruct(&backend,
		validation.Field(&backend.Name, validation.Required, validation.Match(backendNamePattern).Error("must contain only letters, digits, - and _")),
		validation.Field(&backend.Strategy, validation.In(toInterfaces(strategy.Names())...)),
		validation.Field(&backend.VirtualNodes, validation.Min(0)),
		validation.Field(&backend.Instances,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateInstanceConfig)),
		),
	)
}

func validateInstanceConfig(value interface{}) error {
	inst, ok := value.(InstanceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an InstanceConfig")
	}

	if err := validateServerURL(inst.URL); err != nil {
		return err
	}

	if inst.Weight < 0 {
		return validation.NewError("validation_invalid_weight", "weight must not be negative")
	}

	return nil
}

func validateRouteConfig(value interface{}) error {
	rc, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	return validation.ValidateStruct(&rc,
		validation.Field(&rc.ID, validation.Required),
		validation.Field(&rc.Paths,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validatePathPattern)),
		),
		validation.Field(&rc.URI, validation.Required, validation.By(validateRouteURI)),
		validation.Field(&rc.Rewrite, validation.By(validateRewrite)),
	)
}

func validateRouteURI(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if u.Scheme == LoadBalancedScheme {
		if u.Host == "" {
			return validation.NewError("validation_missing_backend", "lb:// URI must name a backend")
		}
		return nil
	}

	return validateServerURL(raw)
}

func validateRewrite(value interface{}) error {
	rw, ok := value.(*RewriteConfig)
	if !ok || rw == nil {
		return nil
	}

	if rw.Pattern == "" {
		return validation.NewError("validation_empty_pattern", "rewrite pattern cannot be empty")
	}

	if _, err := regexp.Compile(rw.Pattern); err != nil {
		return validation.NewError("validation_invalid_pattern", "rewrite pattern must be a valid regular expression")
	}

	return nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// BackendName returns the logical backend a route targets: the lb:// host,
// the explicit backend field, or the target host.
func (r RouteConfig) BackendName() string {
	if r.Backend != "" {
		return r.Backend
	}
	u, err := url.Parse(r.URI)
	if err != nil {
		return ""
	}
	return u.Host
}

// duration parses a value already accepted by validateDuration.
func duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration     { return duration(s.ReadTimeout) }
func (s ServerConfig) WriteTimeoutDuration() time.Duration    { return duration(s.WriteTimeout) }
func (s ServerConfig) IdleTimeoutDuration() time.Duration     { return duration(s.IdleTimeout) }
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration { return duration(s.ShutdownTimeout) }

func (g GatewayConfig) ForwardTimeoutDuration() time.Duration { return duration(g.ForwardTimeout) }

func (c CircuitBreakerConfig) RecoveryTimeoutDuration() time.Duration {
	return duration(c.RecoveryTimeout)
}

func (t TransportConfig) DialTimeoutDuration() time.Duration     { return duration(t.DialTimeout) }
func (t TransportConfig) IdleConnTimeoutDuration() time.Duration { return duration(t.IdleConnTimeout) }

func (h HealthCheckConfig) IntervalDuration() time.Duration { return duration(h.Interval) }
func (h HealthCheckConfig) TimeoutDuration() time.Duration  { return duration(h.Timeout) }

func (c CORSConfig) MaxAgeDuration() time.Duration { return duration(c.MaxAge) }
