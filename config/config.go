// Package config provides YAML configuration parsing for pulsefeed.
//
// This package enables running pulsefeed as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	poll_interval: 10s
//
//	entities:
//	  - id: db-1
//	    feeds:
//	      - name: stats
//	        type: http
//	        url: https://db-1.internal/stats
//	        attributes:
//	          - name: db.connections
//	            type: int
//	            source: json:pool.open
//	            on_exception: -1
//
//	groups:
//	  - name: web
//	    dimensions:
//	      region: [eu, us]
//	    feeds:
//	      - name: health
//	        type: http
//	        url: "https://{{.region}}.example.com/healthz"
//	        attributes:
//	          - name: service.up
//	            type: bool
//	            source: ok
//	            success: status:2xx
//	            on_failure: false
//	            on_exception: false
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval.
const minPollInterval = 1 * time.Second

const (
	defaultPort         = 8080
	defaultPollInterval = 15 * time.Second
)

// Config is the root configuration structure for pulsefeed.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port" validate:"min=1,max=65535"`

	// PollInterval is the default sampling period for attributes that do not
	// set one. Defaults to 15s.
	PollInterval Duration `yaml:"poll_interval"`

	// MaxConcurrency bounds concurrent sample executions. Zero uses the
	// library default.
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=0"`

	// Entities are individually declared entities.
	Entities []EntityConfig `yaml:"entities" validate:"dive"`

	// Groups declare entities that expand via cartesian product.
	Groups []GroupConfig `yaml:"groups" validate:"dive"`
}

// EntityConfig declares one entity and its feeds.
type EntityConfig struct {
	// ID is the entity identifier, unique across the file.
	ID string `yaml:"id" validate:"required"`

	// Feeds sample external sources on behalf of the entity.
	Feeds []FeedConfig `yaml:"feeds" validate:"required,min=1,dive"`
}

// GroupConfig declares a family of entities that expands via cartesian
// product of its dimensions.
//
// With dimensions {region: [eu, us], tier: [api, web]} the group expands to
// four entities. Dimension keys are available as template variables in the
// ID template and in feed URLs, headers, bodies, hosts and commands:
// {{.region}}, {{.tier}}.
type GroupConfig struct {
	// Name is the base name for generated entity ids.
	Name string `yaml:"name" validate:"required"`

	// IDTemplate is a Go template for the entity id. Defaults to the name
	// followed by the dimension values in sorted key order, joined by "-".
	IDTemplate string `yaml:"id_template"`

	// Dimensions maps dimension names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions" validate:"required,min=1"`

	// Feeds are the feed templates installed on every generated entity.
	Feeds []FeedConfig `yaml:"feeds" validate:"required,min=1,dive"`
}

// FeedConfig declares one feed.
type FeedConfig struct {
	// Name is the feed name, unique within its entity.
	Name string `yaml:"name" validate:"required"`

	// Type selects the transport: "http" or "ssh".
	Type string `yaml:"type" validate:"required,oneof=http ssh"`

	// Interval is the default period for the feed's attributes.
	Interval Duration `yaml:"interval"`

	// URL is the HTTP endpoint (type: http).
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url" validate:"required_if=Type http"`

	// Method is the HTTP method (GET, HEAD, POST). Defaults to GET.
	Method string `yaml:"method" validate:"omitempty,oneof=GET HEAD POST"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Body is the request body for POST requests.
	Body string `yaml:"body"`

	// Register gates every attribute of the feed on a one-time registration
	// with an external coordinator (type: http).
	Register *RegisterConfig `yaml:"register"`

	// SSH holds connection settings (type: ssh).
	SSH *SSHConfig `yaml:"ssh" validate:"required_if=Type ssh"`

	// Command is the default shell command for the feed's attributes
	// (type: ssh).
	Command string `yaml:"command"`

	// Attributes are the values this feed keeps up to date.
	Attributes []AttributeConfig `yaml:"attributes" validate:"required,min=1,dive"`
}

// RegisterConfig declares a coordinator registration.
type RegisterConfig struct {
	// URL receives a POST of Body until it answers 2xx.
	URL string `yaml:"url" validate:"required"`

	// Body is the JSON registration payload.
	Body string `yaml:"body"`

	// Interval is the retry period. Defaults to 5s.
	Interval Duration `yaml:"interval"`
}

// SSHConfig holds connection settings for an ssh feed.
type SSHConfig struct {
	Host                  string   `yaml:"host" validate:"required"`
	Port                  int      `yaml:"port" validate:"omitempty,min=1,max=65535"`
	User                  string   `yaml:"user" validate:"required"`
	Password              string   `yaml:"password"`
	PrivateKeyPath        string   `yaml:"private_key_path"`
	Passphrase            string   `yaml:"passphrase"`
	KnownHosts            string   `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool     `yaml:"insecure_ignore_host_key"`
	Timeout               Duration `yaml:"timeout"`
}

// AttributeConfig declares one attribute and how samples update it.
type AttributeConfig struct {
	// Name is the attribute name.
	Name string `yaml:"name" validate:"required"`

	// Description is a human-readable description.
	Description string `yaml:"description"`

	// Type is the value type: int, int64, float, bool, string or duration.
	Type string `yaml:"type" validate:"required,oneof=int int64 float bool string duration"`

	// Source selects the raw value. HTTP feeds accept status (default),
	// body, latency, json:<path> and regex:<pattern>. SSH feeds accept
	// stdout (default), stderr, exit_code and field:<n>. Both accept ok,
	// which yields true for every sample passing the success check.
	Source string `yaml:"source"`

	// Success selects the success predicate. HTTP feeds accept
	// status:<classes> (default status:2xx), contains:<text>,
	// healthy:<path> and always. SSH feeds accept exit_ok (default),
	// contains:<text> and always.
	Success string `yaml:"success"`

	// OnFailure is written when a sample fails the success check.
	OnFailure any `yaml:"on_failure"`

	// OnException is written when sampling fails.
	OnException any `yaml:"on_exception"`

	// Interval overrides the feed and global periods.
	Interval Duration `yaml:"interval"`

	// Command overrides the feed command (type: ssh).
	Command string `yaml:"command"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// validate reports field errors using YAML names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URLs, header values, bodies, SSH
// credentials and commands. Defaults are applied for Port (8080) and
// PollInterval (15s). Groups are expanded once during validation so that
// template errors and duplicate entity ids are reported here.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(defaultPollInterval)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, describeValidation(err)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// describeValidation turns validator errors into a readable error.
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}

		var msg string
		switch fe.Tag() {
		case "required", "required_if":
			msg = "is required"
		case "oneof":
			msg = fmt.Sprintf("must be one of [%s]", fe.Param())
		case "min":
			msg = fmt.Sprintf("must be at least %s", fe.Param())
		case "max":
			msg = fmt.Sprintf("must be at most %s", fe.Param())
		default:
			msg = fmt.Sprintf("failed %q validation", fe.Tag())
		}
		msgs = append(msgs, field+": "+msg)
	}
	return errors.New(strings.Join(msgs, "; "))
}

// expandAndValidate expands environment variables and applies the checks
// struct tags cannot express.
func (c *Config) expandAndValidate() error {
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}

	if len(c.Entities) == 0 && len(c.Groups) == 0 {
		return errors.New("at least one entity or group must be defined")
	}

	for i := range c.Entities {
		e := &c.Entities[i]
		ctx := fmt.Sprintf("entities[%d] (%s)", i, e.ID)
		if err := validateFeeds(e.Feeds, ctx, true); err != nil {
			return err
		}
	}

	for i := range c.Groups {
		g := &c.Groups[i]
		ctx := fmt.Sprintf("groups[%d] (%s)", i, g.Name)

		if g.IDTemplate != "" {
			if _, err := template.New("").Parse(g.IDTemplate); err != nil {
				return fmt.Errorf("%s: invalid id_template: %w", ctx, err)
			}
		}
		for dimName, dimValues := range g.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("%s: dimension %q has no values", ctx, dimName)
			}
			seen := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := seen[v]; exists {
					return fmt.Errorf("%s: dimension %q has duplicate value %q", ctx, dimName, v)
				}
				seen[v] = struct{}{}
			}
		}

		// URLs are checked after expansion, once templates are rendered
		if err := validateFeeds(g.Feeds, ctx, false); err != nil {
			return err
		}
	}

	entities, err := c.AllEntities()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if _, exists := seen[e.ID]; exists {
			return fmt.Errorf("duplicate entity id %q", e.ID)
		}
		seen[e.ID] = struct{}{}

		for j := range e.Feeds {
			if err := validateURLs(&e.Feeds[j], fmt.Sprintf("entity %s: feeds[%d] (%s)", e.ID, j, e.Feeds[j].Name)); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateFeeds expands environment variables in place and checks periods
// and per-type requirements.
func validateFeeds(feeds []FeedConfig, ctx string, checkURLs bool) error {
	names := make(map[string]struct{}, len(feeds))

	for j := range feeds {
		f := &feeds[j]
		fctx := fmt.Sprintf("%s: feeds[%d] (%s)", ctx, j, f.Name)

		if _, exists := names[f.Name]; exists {
			return fmt.Errorf("%s: duplicate feed name", fctx)
		}
		names[f.Name] = struct{}{}

		if err := expandFeedEnv(f); err != nil {
			return fmt.Errorf("%s: %w", fctx, err)
		}

		if err := checkInterval(f.Interval, fctx+": interval"); err != nil {
			return err
		}
		if f.Timeout != 0 && f.Timeout.Duration() < time.Second {
			return fmt.Errorf("%s: timeout must be at least 1s if specified, got %s", fctx, f.Timeout.Duration())
		}

		switch f.Type {
		case "http":
			if f.SSH != nil {
				return fmt.Errorf("%s: ssh settings are not valid for an http feed", fctx)
			}
			if f.Register != nil {
				if err := checkInterval(f.Register.Interval, fctx+": register.interval"); err != nil {
					return err
				}
			}
		case "ssh":
			if f.Register != nil {
				return fmt.Errorf("%s: register is only supported for http feeds", fctx)
			}
			if f.SSH.Password == "" && f.SSH.PrivateKeyPath == "" {
				return fmt.Errorf("%s: ssh requires a password or private_key_path", fctx)
			}
			if f.SSH.KnownHosts == "" && !f.SSH.InsecureIgnoreHostKey {
				return fmt.Errorf("%s: ssh requires known_hosts unless insecure_ignore_host_key is set", fctx)
			}
		}

		attrNames := make(map[string]struct{}, len(f.Attributes))
		for k := range f.Attributes {
			a := &f.Attributes[k]
			actx := fmt.Sprintf("%s: attributes[%d] (%s)", fctx, k, a.Name)

			if _, exists := attrNames[a.Name]; exists {
				return fmt.Errorf("%s: duplicate attribute name", actx)
			}
			attrNames[a.Name] = struct{}{}

			if err := checkInterval(a.Interval, actx+": interval"); err != nil {
				return err
			}
			if err := checkAttributeSpecs(f.Type, *a); err != nil {
				return fmt.Errorf("%s: %w", actx, err)
			}
			if f.Type == "ssh" && a.Command == "" && f.Command == "" {
				return fmt.Errorf("%s: command is required (on the attribute or the feed)", actx)
			}
		}

		if checkURLs {
			if err := validateURLs(f, fctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandFeedEnv applies environment variable substitution to the string
// fields of f that carry endpoints or credentials.
func expandFeedEnv(f *FeedConfig) error {
	type field struct {
		name string
		ptr  *string
	}

	fields := []field{
		{"url", &f.URL},
		{"body", &f.Body},
		{"command", &f.Command},
	}
	if f.Register != nil {
		fields = append(fields,
			field{"register.url", &f.Register.URL},
			field{"register.body", &f.Register.Body},
		)
	}
	if f.SSH != nil {
		fields = append(fields,
			field{"ssh.host", &f.SSH.Host},
			field{"ssh.user", &f.SSH.User},
			field{"ssh.password", &f.SSH.Password},
			field{"ssh.private_key_path", &f.SSH.PrivateKeyPath},
			field{"ssh.passphrase", &f.SSH.Passphrase},
			field{"ssh.known_hosts", &f.SSH.KnownHosts},
		)
	}
	for _, fld := range fields {
		expanded, err := expandEnvVars(*fld.ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", fld.name, err)
		}
		*fld.ptr = expanded
	}

	for k, v := range f.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		f.Headers[k] = expanded
	}
	return nil
}

// validateURLs checks that the HTTP URLs of f are absolute http(s) URLs.
func validateURLs(f *FeedConfig, ctx string) error {
	if f.Type != "http" {
		return nil
	}
	if err := checkHTTPURL(f.URL); err != nil {
		return fmt.Errorf("%s: url: %w", ctx, err)
	}
	if f.Register != nil {
		if err := checkHTTPURL(f.Register.URL); err != nil {
			return fmt.Errorf("%s: register.url: %w", ctx, err)
		}
	}
	return nil
}

func checkHTTPURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	return nil
}

// checkInterval enforces the 1s..1h range on an optional period.
func checkInterval(d Duration, ctx string) error {
	if d == 0 {
		return nil
	}
	if d.Duration() < minPollInterval {
		return fmt.Errorf("%s must be at least %s, got %s", ctx, minPollInterval, d.Duration())
	}
	if d.Duration() > time.Hour {
		return fmt.Errorf("%s must not exceed 1h, got %s", ctx, d.Duration())
	}
	return nil
}
