package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Listen is the address the daemon accepts commands on. Either a
	// host:port pair for TCP or an absolute path for a UNIX socket.
	Listen string `koanf:"listen" validate:"required,listen_addr"`

	// HashFile is the path of the on-disk snapshot. Empty means the store
	// runs in-memory only and nothing survives a restart.
	HashFile string `koanf:"hashfile"`

	// StateFile is the path of the bolt database holding worker counters
	// (last sync time, record count). Empty disables it.
	StateFile string `koanf:"statefile"`

	// Expire is the record TTL in seconds applied during snapshots.
	Expire uint64 `koanf:"expire" validate:"required,gte=1"`

	// SyncInterval is the base period of the snapshot timer in seconds.
	// The effective period adds up to one interval of random jitter.
	SyncInterval uint `koanf:"sync_interval" validate:"required,gte=1"`

	// ModLimit is the number of mutations that must accumulate before a
	// periodic snapshot is actually written.
	ModLimit uint32 `koanf:"mod_limit" validate:"required,gte=1"`

	// IOTimeout is the per-connection read/write deadline in seconds.
	IOTimeout uint `koanf:"io_timeout" validate:"required,gte=1"`

	// SoftShutdown is how long, in seconds, in-flight sessions are drained
	// after a reload signal before the worker exits.
	SoftShutdown uint `koanf:"soft_shutdown" validate:"required,gte=1"`

	// MaxConns caps concurrently served connections.
	MaxConns int `koanf:"max_conns" validate:"required,gte=1"`

	// CacheSize is the capacity of the CHECK decision cache.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`

	// DisableCache disables the CHECK decision cache when set to true.
	DisableCache bool `koanf:"disable_cache"`

	// AdminAddr is the optional HTTP stats endpoint address. Empty disables it.
	AdminAddr string `koanf:"admin_addr"`

	// BloomBits is the size of the membership filter bit array.
	BloomBits uint64 `koanf:"bloom_bits" validate:"required,gte=1024"`

	// BloomHashes is the number of hash functions the filter uses.
	BloomHashes uint `koanf:"bloom_hashes" validate:"required,gte=1,lte=32"`
}

// DEFAULT_APP_CONFIG defines the default settings for the fuzzy storage
// daemon: listen port, snapshot cadence, TTL, and filter sizing.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:          "prod",
	LogLevel:     "info",
	Listen:       ":11335",
	HashFile:     "",
	StateFile:    "",
	Expire:       172800, // 2 days
	SyncInterval: 60,
	ModLimit:     10000,
	IOTimeout:    5,
	SoftShutdown: 10,
	MaxConns:     1024,
	CacheSize:    1024,
	DisableCache: false,
	AdminAddr:    "",
	BloomBits:    20000000,
	BloomHashes:  4,
}

// validListenAddr validates the listen address: either an absolute UNIX
// socket path or a host:port pair with a valid port number.
func validListenAddr(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	if strings.HasPrefix(addr, "/") {
		return len(addr) > 1
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	// empty host means all interfaces; otherwise it must parse
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// envLoader loads environment variables with the prefix "FUZZY_",
// lowercasing keys and stripping the prefix. It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "FUZZY_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "FUZZY_"))
			value = strings.TrimSpace(value)
			return key, value
		},
	}), nil)
}

// defaultLoader loads default configuration values into the provided Koanf
// instance using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "listen_addr" validation.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("listen_addr", validListenAddr)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

// Network returns the network type implied by the listen address:
// "unix" for absolute paths, "tcp" otherwise.
func (c *AppConfig) Network() string {
	if strings.HasPrefix(c.Listen, "/") {
		return "unix"
	}
	return "tcp"
}
