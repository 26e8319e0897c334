// Package cli implements the mfclone command line with cobra.
//
// Every command loads the configuration (file, .env, then flags), sets up
// logging and opens the card store. Commands that talk to a card also open
// the PC/SC reader.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oo-developer/mfclone/classic"
	"github.com/oo-developer/mfclone/clone"
	"github.com/oo-developer/mfclone/config"
	"github.com/oo-developer/mfclone/database"
	"github.com/oo-developer/mfclone/hardware"
	"github.com/oo-developer/mfclone/logger"
	"github.com/oo-developer/mfclone/session"
)

var (
	flagConfig   string
	flagEnv      string
	flagReader   int
	flagStore    string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "mfclone",
	Short: "Recover MIFARE Classic keys, store card profiles and clone them",
	Long: `mfclone recovers the sector keys of a MIFARE Classic 1K card by dictionary
attack through a PC/SC reader (ACR122U), saves the keys and data as a numbered
card profile and writes stored profiles onto writable-UID cards.

Quick usage:
  mfclone capture      # read the card on the reader and save it
  mfclone list         # stored profiles
  mfclone clone 0      # write slot 0 onto the card on the reader
  mfclone shell        # interactive single-letter commands`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "mfclone.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&flagEnv, "env", ".env", "environment file with MFCLONE_* overrides")
	rootCmd.PersistentFlags().IntVar(&flagReader, "reader", 0, "PC/SC reader index")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "card store directory")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(captureCmd, listCmd, showCmd, cloneCmd, emulateCmd, deleteCmd, shellCmd)
}

// loadConfig resolves file, environment and flag settings in that order
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadEnv(flagEnv); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("reader") {
		cfg.Reader.Index = flagReader
	}
	if flags.Changed("store") {
		cfg.Store.Dir = flagStore
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds what a command run needs. reader is nil for offline commands.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	reader  *hardware.Reader
	store   *database.CardStore
	dict    *classic.Dictionary
	session *session.Session
}

func openApp(cmd *cobra.Command, withReader bool) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger.Get()}

	storage, err := database.NewDirStorage(cfg.Store.Dir)
	if err != nil {
		return nil, err
	}
	a.log.Debug("card store",
		logger.String("dir", storage.Dir()),
		logger.String("duplicate_match", cfg.Store.DuplicateMatch),
		logger.Bool("golden_key", cfg.Recovery.GoldenKey))
	a.store, err = database.NewCardStore(storage, database.StoreConfig{
		MaxSlots:         cfg.Store.MaxSlots,
		Match:            cfg.MatchMode(),
		FingerprintBlock: byte(cfg.Store.FingerprintBlock),
		Logger:           logger.Named("store"),
	})
	if err != nil {
		return nil, err
	}

	a.dict, err = loadDictionary(cfg, a.log)
	if err != nil {
		return nil, err
	}

	var transport classic.Transport
	var emulator session.Emulator
	if withReader {
		if err := a.openReader(); err != nil {
			return nil, err
		}
		transport, emulator = a.reader, a.reader
	}

	a.session = session.New(transport, a.store, a.dict, emulator, cmd.OutOrStdout(), session.Options{
		SelectTimeout: cfg.Reader.SelectTimeout,
		GoldenKey:     cfg.Recovery.GoldenKey,
		Clone: clone.Config{
			SelectTimeout: cfg.Reader.SelectTimeout,
			VerifyRetries: cfg.Clone.VerifyRetries,
			VerifyBackoff: cfg.Clone.VerifyBackoff,
			CopyData:      cfg.Clone.CopyData,
		},
		Logger: logger.Named("session"),
	})
	return a, nil
}

func (a *app) openReader() error {
	r, err := hardware.NewReader(logger.Named("reader"))
	if err != nil {
		return err
	}
	if err := r.UseReaderIndex(a.cfg.Reader.Index); err != nil {
		r.Close()
		return err
	}
	r.SetPollInterval(a.cfg.Reader.PollInterval)
	a.log.Info("using reader", logger.String("name", r.Name()))
	a.reader = r
	return nil
}

func (a *app) Close() {
	if a.reader != nil {
		if err := a.reader.Close(); err != nil {
			a.log.Warn("reader close failed", logger.Err(err))
		}
	}
}

// loadDictionary returns the built-in keys extended by the configured key
// file, or by mfkeys.dic from a standard location when probing is enabled
func loadDictionary(cfg *config.Config, log *zap.Logger) (*classic.Dictionary, error) {
	dict := classic.DefaultDictionary()
	path := cfg.Dictionary.File
	if path == "" && cfg.Dictionary.Probe {
		found, err := database.ProbeForKeyFile(database.GetDefaultSearchPaths())
		if err != nil {
			log.Debug("no extended dictionary", logger.Err(err))
			return dict, nil
		}
		path = found
	}
	if path == "" {
		return dict, nil
	}
	keys, err := classic.LoadKeyFile(path)
	if err != nil {
		return nil, fmt.Errorf("dictionary %s: %w", path, err)
	}
	dict = dict.Extend(keys...)
	log.Info("dictionary loaded",
		logger.String("file", path),
		logger.Int("builtin", dict.Builtin()),
		logger.Int("total", dict.Len()))
	return dict, nil
}

// interruptible returns a context an interrupt cancels
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}
