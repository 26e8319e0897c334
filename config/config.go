package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/database"
	"github.com/oo-developer/mfclone/logger"
)

// Environment overrides applied on top of the file
const (
	EnvReaderIndex    = "MFCLONE_READER_INDEX"
	EnvStoreDir       = "MFCLONE_STORE_DIR"
	EnvDictionary     = "MFCLONE_DICTIONARY"
	EnvLogLevel       = "MFCLONE_LOG_LEVEL"
	EnvDuplicateMatch = "MFCLONE_DUPLICATE_MATCH"
)

type Config struct {
	Reader     ReaderConfig     `yaml:"reader"`
	Store      StoreConfig      `yaml:"store"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Clone      CloneConfig      `yaml:"clone"`
	Log        LogConfig        `yaml:"log"`
}

type ReaderConfig struct {
	Index         int           `yaml:"index"`
	SelectTimeout time.Duration `yaml:"select_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type StoreConfig struct {
	Dir              string `yaml:"dir"`
	MaxSlots         int    `yaml:"max_slots"`
	DuplicateMatch   string `yaml:"duplicate_match"`
	FingerprintBlock int    `yaml:"fingerprint_block"`
}

type DictionaryConfig struct {
	// File is an extra key list appended to the built-in keys
	File string `yaml:"file"`
	// Probe looks for mfkeys.dic in the standard locations when File is empty
	Probe bool `yaml:"probe"`
}

type RecoveryConfig struct {
	GoldenKey bool `yaml:"golden_key"`
}

type CloneConfig struct {
	VerifyRetries int           `yaml:"verify_retries"`
	VerifyBackoff time.Duration `yaml:"verify_backoff"`
	CopyData      bool          `yaml:"copy_data"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Reader: ReaderConfig{
			SelectTimeout: 30 * time.Second,
			PollInterval:  time.Second,
		},
		Store: StoreConfig{
			Dir:              "cards",
			MaxSlots:         database.DefaultMaxSlots,
			DuplicateMatch:   "uid",
			FingerprintBlock: 4,
		},
		Dictionary: DictionaryConfig{Probe: true},
		Recovery:   RecoveryConfig{GoldenKey: true},
		Clone: CloneConfig{
			VerifyRetries: 3,
			VerifyBackoff: 100 * time.Millisecond,
			CopyData:      true,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// LoadEnv reads a .env file into the process environment. A missing file is
// not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty or missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := cfg.decode(content); err != nil {
				return nil, err
			}
			cfg.resolvePaths(path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(content []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvReaderIndex); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvReaderIndex, err)
		}
		c.Reader.Index = n
	}
	if v, ok := lookup(EnvStoreDir); ok {
		c.Store.Dir = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDictionary); ok {
		c.Dictionary.File = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDuplicateMatch); ok {
		c.Store.DuplicateMatch = strings.TrimSpace(v)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Reader.Index < 0 {
		return fmt.Errorf("config.reader.index must be >= 0")
	}
	if c.Reader.SelectTimeout <= 0 {
		return fmt.Errorf("config.reader.select_timeout must be positive")
	}
	if c.Reader.PollInterval <= 0 {
		return fmt.Errorf("config.reader.poll_interval must be positive")
	}

	if strings.TrimSpace(c.Store.Dir) == "" {
		return fmt.Errorf("config.store.dir is required")
	}
	if c.Store.MaxSlots < 1 || c.Store.MaxSlots > 1000 {
		return fmt.Errorf("config.store.max_slots must be 1..1000")
	}
	if _, err := database.ParseMatchMode(c.Store.DuplicateMatch); err != nil {
		return fmt.Errorf("config.store.duplicate_match must be uid or content")
	}
	fb := c.Store.FingerprintBlock
	if fb < 1 || fb >= classic.BlockCount || classic.IsTrailer(byte(fb)) {
		return fmt.Errorf("config.store.fingerprint_block must be a data block in 1..%d", classic.BlockCount-2)
	}

	if c.Dictionary.File != "" {
		if err := validateReadableFile(c.Dictionary.File, "config.dictionary.file"); err != nil {
			return err
		}
	}

	if c.Clone.VerifyRetries < 1 {
		return fmt.Errorf("config.clone.verify_retries must be >= 1")
	}
	if c.Clone.VerifyBackoff <= 0 {
		return fmt.Errorf("config.clone.verify_backoff must be positive")
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config.log.level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("config.log.format must be console or json")
	}
	return nil
}

// MatchMode returns the parsed duplicate match mode
func (c *Config) MatchMode() database.MatchMode {
	m, _ := database.ParseMatchMode(c.Store.DuplicateMatch)
	return m
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Store.Dir = resolvePath(configDir, c.Store.Dir)
	c.Dictionary.File = resolvePath(configDir, c.Dictionary.File)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
