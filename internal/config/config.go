// Package config provides configuration loading for the blueprint manager.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the manager daemon.
type Config struct {
	Chain    ChainConfig    `mapstructure:"chain"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	MicroVM  MicroVMConfig  `mapstructure:"microvm"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Keystore KeystoreConfig `mapstructure:"keystore"`
}

// ChainConfig holds the on-chain registry connection settings.
type ChainConfig struct {
	HTTPRPCURL        string        `mapstructure:"http_rpc_url"`
	WSRPCURL          string        `mapstructure:"ws_rpc_url"`
	RegistryAddress   string        `mapstructure:"registry_address"`
	RestakingAddress  string        `mapstructure:"restaking_address"`
	ReconnectBaseWait time.Duration `mapstructure:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `mapstructure:"reconnect_max_wait"`
}

// RuntimeConfig holds daemon-local filesystem and execution preferences.
type RuntimeConfig struct {
	DataDir                    string `mapstructure:"data_dir"`
	CacheDir                   string `mapstructure:"cache_dir"`
	RuntimeDir                 string `mapstructure:"runtime_dir"`
	PreferredSource            string `mapstructure:"preferred_source"` // native|container|wasm
	UseVM                      bool   `mapstructure:"use_vm"`
	AllowUncheckedAttestations bool   `mapstructure:"allow_unchecked_attestations"`
	TestMode                   bool   `mapstructure:"test_mode"`
	NativePortLow              int    `mapstructure:"native_port_low"`
	NativePortHigh             int    `mapstructure:"native_port_high"`
}

// MicroVMConfig configures the Cloud Hypervisor executor substrate.
type MicroVMConfig struct {
	HostIface    string `mapstructure:"host_iface"`
	VMSubnetCIDR string `mapstructure:"vm_subnet_cidr"`
	ServicePort  int    `mapstructure:"service_port"`
}

// RemoteConfig configures the third-party cloud executor substrate.
type RemoteConfig struct {
	Region          string  `mapstructure:"region"`
	RecordStorePath string  `mapstructure:"record_store_path"`
	GKEClusterName  string  `mapstructure:"gke_cluster_name"`
	MaxHourlyCost   float64 `mapstructure:"max_hourly_cost"`
}

// ProxyConfig holds Auth Proxy HTTP server settings.
type ProxyConfig struct {
	Port             int           `mapstructure:"port"`
	Host             string        `mapstructure:"host"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ChallengeExpiry  time.Duration `mapstructure:"challenge_expiry"`
	AllowedHeaders   []string      `mapstructure:"allowed_forward_headers"`
	PasetoRootKeyHex string        `mapstructure:"paseto_root_key_hex"`
}

// DatabaseConfig holds PostgreSQL configuration for the audit trail.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration for the challenge store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KeystoreConfig describes where operator key material lives. The manager
// never reads key bytes directly; it only needs a URI to hand to the
// Keystore capability adapter.
type KeystoreConfig struct {
	URI string `mapstructure:"uri"`
}

// Path strips the "file://" scheme off URI, returning the filesystem
// directory the keystore capability adapter should open. Only the file
// scheme is supported today.
func (c KeystoreConfig) Path() string {
	return strings.TrimPrefix(c.URI, "file://")
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/blueprint-manager")

	v.SetEnvPrefix("BLUEPRINT_MANAGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("chain.reconnect_base_wait", "1s")
	v.SetDefault("chain.reconnect_max_wait", "32s")

	v.SetDefault("runtime.data_dir", "/var/lib/blueprint-manager")
	v.SetDefault("runtime.cache_dir", "/var/cache/blueprint-manager")
	v.SetDefault("runtime.runtime_dir", "/run/blueprint-manager")
	v.SetDefault("runtime.preferred_source", "native")
	v.SetDefault("runtime.use_vm", false)
	v.SetDefault("runtime.allow_unchecked_attestations", false)
	v.SetDefault("runtime.test_mode", false)
	v.SetDefault("runtime.native_port_low", 20000)
	v.SetDefault("runtime.native_port_high", 21000)

	v.SetDefault("microvm.host_iface", "eth0")
	v.SetDefault("microvm.vm_subnet_cidr", "10.77.0.0/24")
	v.SetDefault("microvm.service_port", 8080)

	v.SetDefault("remote.region", "us-east-1")
	v.SetDefault("remote.record_store_path", "/var/lib/blueprint-manager/remote-deployments.json")
	v.SetDefault("remote.max_hourly_cost", 2.0)

	v.SetDefault("proxy.port", 8575)
	v.SetDefault("proxy.host", "0.0.0.0")
	v.SetDefault("proxy.read_timeout", "30s")
	v.SetDefault("proxy.write_timeout", "30s")
	v.SetDefault("proxy.challenge_expiry", "60s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "blueprint_manager")
	v.SetDefault("database.password", "blueprint_manager")
	v.SetDefault("database.database", "blueprint_manager")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("keystore.uri", "file:///var/lib/blueprint-manager/keystore")
}
