package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Logging   LoggingConfig   `yaml:"logging"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sources   SourcesConfig   `yaml:"sources"`
	Cache     CacheConfig     `yaml:"cache"`
	Protocols ProtocolsConfig `yaml:"protocols"`
	Stores    StoresConfig    `yaml:"stores"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type AlertingConfig struct {
	AppName string `yaml:"app_name"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type JWTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Alg            string        `yaml:"alg"` // RS256
	PublicKeyPath  string        `yaml:"public_key_path"`
	PrivateKeyPath string        `yaml:"private_key_path"` // signer only, dev/testing
	Audience       string        `yaml:"audience"`
	Issuer         string        `yaml:"issuer"`
	Leeway         time.Duration `yaml:"leeway"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

type RateBucket struct {
	RefillPerSec int           `yaml:"refill_per_sec"` // tokens added every second
	Burst        int           `yaml:"burst"`          // bucket capacity
	TTL          time.Duration `yaml:"ttl"`            // how long to keep an idle key
}

type RateLimitConfig struct {
	ByJWT              RateBucket `yaml:"by_jwt"`
	ByIP               RateBucket `yaml:"by_ip"`
	TrustedProxiesList []string   `yaml:"trusted_proxies"`
}

// External data collaborators: block-timestamp index, log indexer, price
// history API, vault analytics API
type SourcesConfig struct {
	BlockIndexURL     string            `yaml:"block_index_url"`     // /block/{chain}/{unix_ts}
	PriceHistoryURL   string            `yaml:"price_history_url"`   // /getTokenPriceHistory
	VaultAnalyticsURL string            `yaml:"vault_analytics_url"` // /product/{chain}/{vault}/tvl
	VaultRegistryURL  string            `yaml:"vault_registry_url"`  // /tvl and /dailyData
	FonbnkURL         string            `yaml:"fonbnk_url"`
	HyperSync         map[string]string `yaml:"hypersync"` // network_id -> indexer base URL
	RPC               map[string]string `yaml:"rpc"`       // network_id -> json-rpc endpoint
	HTTP              HTTPFetchConfig   `yaml:"http"`
}

type HTTPFetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`       // per-call, default 15s
	MaxRetries   int           `yaml:"max_retries"`   // 429 backoff retries, default 5
	RetryBackoff time.Duration `yaml:"retry_backoff"` // initial delay, default 1s
}

type CacheConfig struct {
	Backend string        `yaml:"backend"` // memory|redis
	TTL     time.Duration `yaml:"ttl"`     // 0 = keep forever (historical data never changes)
	Prefix  string        `yaml:"prefix"`
}

type DromeConfig struct {
	NetworkID     string   `yaml:"network_id"`
	PoolAddresses []string `yaml:"pool_addresses"`
	RouterAddress string   `yaml:"router_address"`
}

type FonbnkConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type ProtocolsConfig struct {
	Aerodrome DromeConfig       `yaml:"aerodrome"`
	Velodrome DromeConfig       `yaml:"velodrome"`
	Fonbnk    FonbnkConfig      `yaml:"fonbnk"`
	Registry  map[string]string `yaml:"registry"` // network_id -> referral registry address
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	DSN    string                 `yaml:"dsn"`
	Writer ClickHouseWriterConfig `yaml:"writer"`
}

type StoresConfig struct {
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type NATSConfig struct {
	URL             string `yaml:"url"`
	BroadcastPrefix string `yaml:"broadcast_prefix"`
}

type PubSubConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
	Headers []string `yaml:"headers"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORS         CORSConfig    `yaml:"cors"`
}

type APIConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type PyroscopeConfig struct {
	Enabled    bool              `yaml:"enabled"`
	AppName    string            `yaml:"app_name"`
	ServerAddr string            `yaml:"server_addr"`
	AuthToken  string            `yaml:"auth_token"`
	Tags       map[string]string `yaml:"tags"`
}

type MetricsConfig struct {
	Prometheus string          `yaml:"prometheus"`
	Pyroscope  PyroscopeConfig `yaml:"pyroscope"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err = yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
