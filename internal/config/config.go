// Package config loads engine configuration from a YAML file with
// environment overrides for credentials.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"ebbridge/internal/eboekhouden"
)

// SOAPCredentials configure the legacy transport. Optional; the REST token is
// preferred when both are present.
type SOAPCredentials struct {
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	SecurityCode1 string `yaml:"security_code_1"`
	SecurityCode2 string `yaml:"security_code_2"`
}

// RESTCredentials configure the modern transport.
type RESTCredentials struct {
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
}

// WindowConfig selects the mutations to import: a date range or an id range.
type WindowConfig struct {
	FromDate string `yaml:"from_date"`
	ToDate   string `yaml:"to_date"`
	FromID   int64  `yaml:"from_id"`
	ToID     int64  `yaml:"to_id"`
}

// HeuristicRule is one CEL expression used to classify unmapped ledgers.
// Variables in scope: code (int), number (string), name (string).
type HeuristicRule struct {
	Class string `yaml:"class"`
	Expr  string `yaml:"expr"`
}

// ServerConfig configures the operator HTTP surface.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"`
}

// Config is the single configuration object of the engine.
type Config struct {
	Company string `yaml:"company"`

	SOAP              *SOAPCredentials `yaml:"soap_credentials"`
	REST              *RESTCredentials `yaml:"rest_api"`
	SourceApplication string           `yaml:"source_application"`

	DefaultBankLedgers       []int64 `yaml:"default_bank_ledgers"`
	DefaultReceivableAccount string  `yaml:"default_receivable_account"`
	DefaultPayableAccount    string  `yaml:"default_payable_account"`
	SuspenseAccount          string  `yaml:"suspense_account"`
	TaxExemptTemplate        string  `yaml:"tax_exempt_template"`

	RetryCeiling   int           `yaml:"retry_ceiling"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Window WindowConfig `yaml:"window"`

	HeuristicRules []HeuristicRule `yaml:"heuristic_rules"`

	DatabaseURL    string `yaml:"database_url"`
	FailureLogDir  string `yaml:"failure_log_dir"`
	LogLevel       string `yaml:"log_level"`
	LogDevelopment bool   `yaml:"log_development"`

	Server ServerConfig `yaml:"server"`
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		SourceApplication: "ebbridge",
		RetryCeiling:      5,
		RequestTimeout:    30 * time.Second,
		FailureLogDir:     "failures",
		LogLevel:          "info",
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets credentials and the DSN come from the environment so they
// stay out of config files.
func (c *Config) applyEnv() {
	if v := os.Getenv("EB_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("EB_REST_TOKEN"); v != "" {
		if c.REST == nil {
			c.REST = &RESTCredentials{}
		}
		c.REST.AccessToken = v
	}
	if v := os.Getenv("EB_SOAP_USERNAME"); v != "" {
		if c.SOAP == nil {
			c.SOAP = &SOAPCredentials{}
		}
		c.SOAP.Username = v
	}
	if v := os.Getenv("EB_SOAP_CODE1"); v != "" && c.SOAP != nil {
		c.SOAP.SecurityCode1 = v
	}
	if v := os.Getenv("EB_SOAP_CODE2"); v != "" && c.SOAP != nil {
		c.SOAP.SecurityCode2 = v
	}
	if v := os.Getenv("EB_JWT_SECRET"); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv("EB_RETRY_CEILING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetryCeiling = n
		}
	}
}

// Validate checks the static part of the pre-flight requirements.
func (c *Config) Validate() error {
	if c.Company == "" {
		return fmt.Errorf("company is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.REST == nil && c.SOAP == nil {
		return fmt.Errorf("either rest_api or soap_credentials must be configured")
	}
	if c.SuspenseAccount == "" {
		return fmt.Errorf("suspense_account is required")
	}
	if c.DefaultReceivableAccount == "" || c.DefaultPayableAccount == "" {
		return fmt.Errorf("default receivable and payable accounts are required")
	}
	if c.RetryCeiling < 1 {
		return fmt.Errorf("retry_ceiling must be at least 1")
	}
	if _, err := c.ParseWindow(); err != nil {
		return err
	}
	return nil
}

// ParseWindow converts the configured window into the client form.
func (c *Config) ParseWindow() (eboekhouden.Window, error) {
	var w eboekhouden.Window
	if c.Window.FromDate != "" {
		t, err := time.Parse("2006-01-02", c.Window.FromDate)
		if err != nil {
			return w, fmt.Errorf("window.from_date: %w", err)
		}
		w.FromDate = t
	}
	if c.Window.ToDate != "" {
		t, err := time.Parse("2006-01-02", c.Window.ToDate)
		if err != nil {
			return w, fmt.Errorf("window.to_date: %w", err)
		}
		w.ToDate = t
	}
	w.FromID = c.Window.FromID
	w.ToID = c.Window.ToID

	if w.ByID() && (!w.FromDate.IsZero() || !w.ToDate.IsZero()) {
		return w, fmt.Errorf("window: configure a date range or an id range, not both")
	}
	return w, nil
}

// NewClient builds the API client for the preferred transport.
func (c *Config) NewClient() (eboekhouden.Client, error) {
	if c.REST != nil && c.REST.AccessToken != "" {
		base := c.REST.BaseURL
		if base == "" {
			base = "https://api.e-boekhouden.nl"
		}
		return eboekhouden.NewRESTClient(eboekhouden.RESTConfig{
			BaseURL:        base,
			AccessToken:    c.REST.AccessToken,
			Source:         c.SourceApplication,
			RequestTimeout: c.RequestTimeout,
			RetryCeiling:   c.RetryCeiling,
		}), nil
	}
	if c.SOAP != nil && c.SOAP.Username != "" {
		u := c.SOAP.URL
		if u == "" {
			u = "https://soap.e-boekhouden.nl/soap.asmx"
		}
		return eboekhouden.NewSOAPClient(eboekhouden.SOAPConfig{
			URL:            u,
			Username:       c.SOAP.Username,
			SecurityCode1:  c.SOAP.SecurityCode1,
			SecurityCode2:  c.SOAP.SecurityCode2,
			RequestTimeout: c.RequestTimeout,
			RetryCeiling:   c.RetryCeiling,
		}), nil
	}
	return nil, fmt.Errorf("no usable API credentials configured")
}
