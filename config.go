package tiercache

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
)

// ByteSize is a byte count that parses human readable sizes such as "5MiB"
// or "100 MB".
type ByteSize int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("byte size %q: %w", text, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	if b < 0 {
		return "unbounded"
	}
	return humanize.IBytes(uint64(b))
}

// Config is the environment-driven configuration of a composed manager.
type Config struct {
	DefaultTTL       time.Duration `env:"TIERCACHE_DEFAULT_TTL" envDefault:"5m"`
	Version          string        `env:"TIERCACHE_VERSION"`
	AutoMigrate      bool          `env:"TIERCACHE_AUTO_MIGRATE" envDefault:"true"`
	ConnectionAware  bool          `env:"TIERCACHE_CONNECTION_AWARE"`
	OperationTimeout time.Duration `env:"TIERCACHE_OPERATION_TIMEOUT"`
	Namespace        string        `env:"TIERCACHE_NAMESPACE" envDefault:"tiercache:"`

	MemoryMaxSize ByteSize `env:"TIERCACHE_MEMORY_MAX_SIZE" envDefault:"10MiB"`

	Redis struct {
		Addr     string   `env:"ADDR"`
		Password string   `env:"PASSWORD"`
		DB       int      `env:"DB"`
		MaxSize  ByteSize `env:"MAX_SIZE" envDefault:"5MiB"`
	} `envPrefix:"TIERCACHE_REDIS_"`

	SQLite struct {
		Path    string   `env:"PATH" envDefault:"tiercache.db"`
		MaxSize ByteSize `env:"MAX_SIZE" envDefault:"100MiB"`
	} `envPrefix:"TIERCACHE_SQLITE_"`

	// DataDir holds the native tiers: a Badger database under "prefs" and
	// the file store under "files".
	DataDir      string   `env:"TIERCACHE_DATA_DIR" envDefault:".tiercache"`
	PrefsMaxSize ByteSize `env:"TIERCACHE_PREFS_MAX_SIZE" envDefault:"5MiB"`
	FilesMaxSize ByteSize `env:"TIERCACHE_FILES_MAX_SIZE" envDefault:"100MiB"`

	BackupWorkers int      `env:"TIERCACHE_BACKUP_WORKERS" envDefault:"4"`
	BackupRate    ByteSize `env:"TIERCACHE_BACKUP_RATE"`
}

// LoadConfig reads Config from the process environment.
func LoadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration an empty environment produces.
func DefaultConfig() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("tiercache: default config: %v", err))
	}
	return cfg
}
