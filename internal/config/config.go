// Package config loads the authentication server settings from a Java-style
// properties file, with environment overrides.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	s3ldap "github.com/isometry/s3-authserver/internal/ldap"
)

// EnvPrefix prefixes environment variables overriding file settings, e.g.
// S3AUTH_LDAPHOST.
const EnvPrefix = "S3AUTH"

// ResourceDir holds static resources such as the SAML metadata document.
const ResourceDir = "resources/static"

// Config is the process-wide server configuration. It is built once by Load
// and treated as read-only afterwards.
type Config struct {
	DefaultEndpoint string   `mapstructure:"defaultEndpoint" default:"s3.seagate.com" validate:"required,hostname"`
	S3Endpoints     []string `mapstructure:"s3Endpoints" validate:"dive,hostname"`
	Region          string   `mapstructure:"region" default:"us-east-1" validate:"required"`

	SAMLMetadataFileName string `mapstructure:"samlMetadataFileName" default:"saml-metadata.xml" validate:"required"`
	ConsoleURL           string `mapstructure:"consoleURL" validate:"omitempty,url"`

	HTTPPort    int  `mapstructure:"httpPort" default:"8085" validate:"min=1,max=65535"`
	HTTPSPort   int  `mapstructure:"httpsPort" default:"8086" validate:"min=1,max=65535"`
	EnableHTTP  bool `mapstructure:"enable_http" default:"true"`
	EnableHTTPS bool `mapstructure:"enable_https" default:"false"`

	KeystoreName     string `mapstructure:"s3KeystoreName"`
	KeystorePassword string `mapstructure:"s3KeyStorePassword"`
	KeyPassword      string `mapstructure:"s3KeyPassword"`
	TLSCertFile      string `mapstructure:"tlsCertFile" validate:"required_if=EnableHTTPS true"`
	TLSKeyFile       string `mapstructure:"tlsKeyFile" validate:"required_if=EnableHTTPS true"`

	DataSource         string        `mapstructure:"dataSource" default:"ldap" validate:"oneof=ldap"`
	LDAPHost           string        `mapstructure:"ldapHost" default:"127.0.0.1" validate:"required"`
	LDAPPort           int           `mapstructure:"ldapPort" default:"389" validate:"min=1,max=65535"`
	LDAPSSL            bool          `mapstructure:"ldapSSL" default:"false"`
	LDAPMaxCons        int           `mapstructure:"ldapMaxCons" default:"5" validate:"min=1,max=100"`
	LDAPMaxSharedCons  int           `mapstructure:"ldapMaxSharedCons" default:"1" validate:"min=1,max=100"`
	LDAPSharedFanout   int           `mapstructure:"ldapSharedFanout" default:"8" validate:"min=1"`
	LDAPLoginDN        string        `mapstructure:"ldapLoginDN"`
	LDAPLoginPW        string        `mapstructure:"ldapLoginPW"`
	LDAPBaseDN         string        `mapstructure:"ldapBaseDN" default:"dc=s3,dc=seagate,dc=com" validate:"required"`
	LDAPKerberosRealm  string        `mapstructure:"ldapKerberosRealm"`
	LDAPKerberosKeytab string        `mapstructure:"ldapKerberosKeytab" validate:"required_with=LDAPKerberosRealm"`
	LDAPKerberosConfig string        `mapstructure:"ldapKerberosConfig"`
	LDAPAcquireTimeout time.Duration `mapstructure:"ldapAcquireTimeout" default:"5s" validate:"gt=0"`
	LDAPOpTimeout      time.Duration `mapstructure:"ldapOpTimeout" default:"10s" validate:"gt=0"`
	LDAPMaxRetries     int           `mapstructure:"ldapMaxRetries" default:"3" validate:"min=0"`

	NettyBossGroupThreads     int `mapstructure:"nettyBossGroupThreads" default:"1" validate:"min=1"`
	NettyWorkerGroupThreads   int `mapstructure:"nettyWorkerGroupThreads" default:"2" validate:"min=1"`
	NettyEventExecutorThreads int `mapstructure:"nettyEventExecutorThreads" default:"4" validate:"min=1"`

	EnableFaultInjection bool          `mapstructure:"enableFaultInjection" default:"false"`
	PerfEnabled          bool          `mapstructure:"perfEnabled" default:"false"`
	LogLevel             string        `mapstructure:"logLevel" default:"info" validate:"oneof=trace debug info warn error off"`
	SignatureMaxSkew     time.Duration `mapstructure:"signatureMaxSkew" default:"15m" validate:"gt=0"`

	AdminAccessKeyID string `mapstructure:"adminAccessKeyId" validate:"required_with=AdminSecretKey"`
	AdminSecretKey   string `mapstructure:"adminSecretKey" validate:"required_with=AdminAccessKeyID"`
}

// Load reads the properties file at path, applies environment overrides
// and validates the result. Settings absent from both keep their defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	v, err := newViper()
	if err != nil {
		return nil, err
	}
	v.SetConfigType("properties")
	v.SetEnvPrefix(EnvPrefix)
	if err := bindEnv(v, reflect.TypeOf(*cfg)); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv registers an environment override for every setting, so that
// overrides apply even to keys missing from the file.
func bindEnv(v *viper.Viper, t reflect.Type) error {
	for i := range t.NumField() {
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks field constraints and the combinations between them.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid configuration: %w", invalid)
		}
		return err
	}
	if !c.EnableHTTP && !c.EnableHTTPS {
		return errors.New("invalid configuration: neither enable_http nor enable_https is set")
	}
	if c.EnableHTTP && c.EnableHTTPS && c.HTTPPort == c.HTTPSPort {
		return fmt.Errorf("invalid configuration: httpPort and httpsPort are both %d", c.HTTPPort)
	}
	return nil
}

// SAMLMetadataFilePath returns the location of the SAML metadata document.
func (c *Config) SAMLMetadataFilePath() string {
	return filepath.Join(ResourceDir, c.SAMLMetadataFileName)
}

// MaxConcurrentRequests is the number of requests handled at once, derived
// from the network thread settings.
func (c *Config) MaxConcurrentRequests() int {
	return c.NettyBossGroupThreads * c.NettyWorkerGroupThreads * c.NettyEventExecutorThreads
}

// Endpoints returns the default endpoint followed by the other accepted
// service endpoints.
func (c *Config) Endpoints() []string {
	endpoints := []string{c.DefaultEndpoint}
	for _, e := range c.S3Endpoints {
		if e != c.DefaultEndpoint {
			endpoints = append(endpoints, e)
		}
	}
	return endpoints
}

// LDAPConfig returns the directory client configuration.
func (c *Config) LDAPConfig() *s3ldap.ConnectionConfig {
	lc := s3ldap.DefaultConfig()
	lc.Host = c.LDAPHost
	lc.Port = c.LDAPPort
	lc.UseTLS = c.LDAPSSL
	lc.BaseDN = c.LDAPBaseDN
	lc.Timeout = c.LDAPOpTimeout
	lc.BindDN = c.LDAPLoginDN
	lc.BindPassword = c.LDAPLoginPW
	lc.KerberosRealm = c.LDAPKerberosRealm
	lc.KerberosKeytab = c.LDAPKerberosKeytab
	lc.KerberosConfig = c.LDAPKerberosConfig
	lc.MaxConnections = c.LDAPMaxCons
	lc.MaxSharedConnections = c.LDAPMaxSharedCons
	lc.SharedFanout = c.LDAPSharedFanout
	lc.AcquireTimeout = c.LDAPAcquireTimeout
	lc.MaxRetries = c.LDAPMaxRetries
	if c.LDAPSSL {
		lc.TLSConfig.ServerName = c.LDAPHost
	}
	return lc
}
