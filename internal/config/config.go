// Package config resolves settings from defaults, a JSONC file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/and161185/consent-keeper/internal/crypto/clientcrypto"
	"github.com/and161185/consent-keeper/internal/errs"
	"github.com/and161185/consent-keeper/internal/idkey"
	"github.com/and161185/consent-keeper/internal/repository"
)

// StoreKind selects the area backend.
type StoreKind string

const (
	StoreFile     StoreKind = "file"
	StorePostgres StoreKind = "postgres"
	StoreRedis    StoreKind = "redis"
)

// Config is the resolved configuration.
type Config struct {
	Store     StoreKind `json:"store"`
	Dir       string    `json:"dir"`  // file backend directory
	Area      string    `json:"area"` // area name in every backend
	DSN       string    `json:"dsn"`
	RedisURL  string    `json:"redisUrl"`
	Cipher    string    `json:"cipher"`
	Font      string    `json:"font"`
	IDStyle   string    `json:"idStyle"`
	Locking   bool      `json:"locking"`
	GlyphWrap bool      `json:"glyphWrap"`

	// RevealMaxFailures blocks an id after that many wrong keys; 0 disables.
	RevealMaxFailures int `json:"revealMaxFailures"`
}

// Dir returns $XDG_CONFIG_HOME/consent-keeper, falling back to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "consent-keeper")
}

// DefaultPath is the config file read when none is given.
func DefaultPath() string { return filepath.Join(Dir(), "config.jsonc") }

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Store:   StoreFile,
		Dir:     Dir(),
		Area:    repository.DefaultAreaName,
		Cipher:  string(clientcrypto.CipherAESCBC),
		IDStyle: string(idkey.StyleBase36),
	}
}

// LoadFile merges the JSONC file at path into c. Comments and trailing
// commas are allowed. A missing file is not an error unless required.
func (c *Config) LoadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Environment variables.
const (
	EnvStore    = "CK_STORE"
	EnvDSN      = "CK_DSN"
	EnvRedisURL = "CK_REDIS_URL"
	EnvCipher   = "CK_CIPHER"
	EnvFont     = "CK_FONT"
	EnvIDStyle  = "CK_ID_STYLE"
	EnvLocking  = "CK_LOCKING"
)

// ApplyEnv overrides c with the non-empty CK_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	var store string
	set(&store, EnvStore)
	if store != "" {
		c.Store = StoreKind(store)
	}
	set(&c.DSN, EnvDSN)
	set(&c.RedisURL, EnvRedisURL)
	set(&c.Cipher, EnvCipher)
	set(&c.Font, EnvFont)
	set(&c.IDStyle, EnvIDStyle)
	if v := getenv(EnvLocking); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a boolean", errs.ErrValidation, EnvLocking, v)
		}
		c.Locking = b
	}
	return nil
}

// RegisterFlags defines the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("store", "", "store backend: file, postgres or redis")
	fs.String("dir", "", "directory of the file store")
	fs.String("area", "", "storage area name")
	fs.String("dsn", "", "postgres connection string")
	fs.String("redis-url", "", "redis URL")
	fs.String("cipher", "", "record cipher: aes-cbc or xchacha20poly1305")
	fs.String("font", "", "TTF/OTF font used to rasterize text")
	fs.String("id-style", "", "document id style: base36 or uuidv7")
	fs.Bool("locking", false, "serialize writes within this process")
	fs.Bool("glyph-wrap", false, "wrap text by measured glyph width")
	fs.Int("reveal-max-failures", 0, "block an id after this many wrong keys (postgres store only)")
}

// ApplyFlags overrides c with the flags explicitly set on fs.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	boolean := func(name string, dst *bool) {
		if fs.Changed(name) {
			*dst, _ = fs.GetBool(name)
		}
	}
	var store string
	str("store", &store)
	if store != "" {
		c.Store = StoreKind(store)
	}
	str("dir", &c.Dir)
	str("area", &c.Area)
	str("dsn", &c.DSN)
	str("redis-url", &c.RedisURL)
	str("cipher", &c.Cipher)
	str("font", &c.Font)
	str("id-style", &c.IDStyle)
	boolean("locking", &c.Locking)
	boolean("glyph-wrap", &c.GlyphWrap)
	if fs.Changed("reveal-max-failures") {
		c.RevealMaxFailures, _ = fs.GetInt("reveal-max-failures")
	}
}

// Validate checks the resolved settings.
func (c Config) Validate() error {
	switch c.Store {
	case StoreFile:
		if c.Dir == "" {
			return fmt.Errorf("%w: file store needs a directory", errs.ErrValidation)
		}
	case StorePostgres:
		if c.DSN == "" {
			return fmt.Errorf("%w: postgres store needs %s", errs.ErrValidation, EnvDSN)
		}
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis store needs %s", errs.ErrValidation, EnvRedisURL)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", errs.ErrValidation, c.Store)
	}
	if c.RevealMaxFailures < 0 {
		return fmt.Errorf("%w: negative revealMaxFailures", errs.ErrValidation)
	}
	if c.RevealMaxFailures > 0 && c.Store != StorePostgres {
		return fmt.Errorf("%w: reveal throttling needs the postgres store", errs.ErrValidation)
	}
	if c.Area == "" {
		return fmt.Errorf("%w: empty area name", errs.ErrValidation)
	}
	if _, err := clientcrypto.ParseCipherName(c.Cipher); err != nil {
		return fmt.Errorf("%w: unknown cipher %q", errs.ErrValidation, c.Cipher)
	}
	if _, err := idkey.ParseIDStyle(c.IDStyle); err != nil {
		return fmt.Errorf("%w: unknown id style %q", errs.ErrValidation, c.IDStyle)
	}
	return nil
}

// Load resolves defaults, the file at path (DefaultPath when empty), the
// environment and the flags set on fs, then validates the result. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	c := Default()
	required := path != ""
	if path == "" {
		path = DefaultPath()
	}
	if err := c.LoadFile(path, required); err != nil {
		return Config{}, err
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if fs != nil {
		c.ApplyFlags(fs)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
