package postmortem

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Default values for the Redis sink.
const (
	DefaultRedisAddr       = "localhost:6379"
	DefaultRedisKey        = "faultcore:incidents"
	DefaultRedisMaxReports = 128
	DefaultDialTimeout     = 5 * time.Second
)

// Default values for the object storage sink.
const (
	DefaultBucket = "faultcore-incidents"
	DefaultPrefix = "incidents/"
)

// Secret is a string that redacts itself when formatted, so credentials
// read from the environment never reach a log line.
type Secret string

const redacted = "[REDACTED]"

// String returns a redacted placeholder.
func (s Secret) String() string { return redacted }

// GoString returns a redacted placeholder for %#v.
func (s Secret) GoString() string { return redacted }

// Value returns the underlying secret.
func (s Secret) Value() string { return string(s) }

// MarshalText keeps the secret out of JSON and YAML dumps of a config.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// RedisConfig configures [NewRedisSink].
type RedisConfig struct {
	// URI is a redis:// or rediss:// connection string. When set it takes
	// precedence over Addr, Password and DB.
	URI string `json:"uri" yaml:"uri" env:"URI"`

	Addr     string `json:"addr" yaml:"addr" env:"ADDR" envDefault:"localhost:6379"`
	Password Secret `json:"-" yaml:"-" env:"PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"DB"`

	// Key is the list the sink appends incident records to.
	Key string `json:"key" yaml:"key" env:"KEY" envDefault:"faultcore:incidents"`

	// MaxReports bounds the list; older records are trimmed on every write.
	MaxReports int `json:"max_reports" yaml:"max_reports" env:"MAX_REPORTS" envDefault:"128"`

	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout" env:"DIAL_TIMEOUT" envDefault:"5s"`
}

// Validate applies defaults to zero fields and checks the rest.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		c.Addr = DefaultRedisAddr
	}
	if c.Key == "" {
		c.Key = DefaultRedisKey
	}
	if c.MaxReports == 0 {
		c.MaxReports = DefaultRedisMaxReports
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("postmortem: redis uri is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("postmortem: redis uri scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
	}
	if c.DB < 0 {
		return fmt.Errorf("postmortem: redis db must be >= 0, got %d", c.DB)
	}
	if c.MaxReports < 1 {
		return fmt.Errorf("postmortem: redis max_reports must be >= 1, got %d", c.MaxReports)
	}
	if c.DialTimeout < 0 {
		return fmt.Errorf("postmortem: redis dial_timeout must not be negative, got %v", c.DialTimeout)
	}
	return nil
}

// ObjectConfig configures [NewObjectSink].
type ObjectConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `json:"access_key" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey Secret `json:"-" yaml:"-" env:"SECRET_KEY"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl" env:"USE_SSL"`
	Region    string `json:"region" yaml:"region" env:"REGION"`

	Bucket string `json:"bucket" yaml:"bucket" env:"BUCKET" envDefault:"faultcore-incidents"`

	// Prefix is prepended to every object name. It must end in "/" when
	// set so records land in their own folder.
	Prefix string `json:"prefix" yaml:"prefix" env:"PREFIX" envDefault:"incidents/"`
}

// Validate applies defaults to zero fields and checks the rest.
func (c *ObjectConfig) Validate() error {
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}

	if c.Endpoint == "" {
		return fmt.Errorf("postmortem: object endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("postmortem: object endpoint must be host:port without a scheme, got %q", c.Endpoint)
	}
	if c.AccessKey == "" {
		return fmt.Errorf("postmortem: object access_key is required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("postmortem: object secret_key is required")
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		return fmt.Errorf("postmortem: object prefix must end with \"/\", got %q", c.Prefix)
	}
	return nil
}
