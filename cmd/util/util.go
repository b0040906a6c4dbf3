package util

import (
	"context"
	"fmt"
	"strings"

	"github.com/ValentinKolb/nKV/lib/config"
	"github.com/ValentinKolb/nKV/lib/db/engines/bolt"
	"github.com/ValentinKolb/nKV/lib/logging"
	"github.com/ValentinKolb/nKV/lib/native"
	"github.com/ValentinKolb/nKV/lib/resource"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cli")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags & Config
// --------------------------------------------------------------------------

// SetupDatabaseFlags adds the flags describing the database to open to a command
func SetupDatabaseFlags(cmd *cobra.Command) {
	key := "path"
	cmd.PersistentFlags().String(key, "data", WrapString("Directory of the database"))

	key = "mode"
	cmd.PersistentFlags().String(key, "create_if_missing", WrapString("What to do if the database does (not) exist (create_if_missing, open_existing, create_new)"))

	key = "flush-every-ms"
	cmd.PersistentFlags().Int(key, config.DefaultFlushEveryMs, WrapString("Interval of the background flush in milliseconds. 0 makes every write durable before it returns"))

	key = "compression"
	cmd.PersistentFlags().String(key, "", WrapString("Compress stored values with this algorithm (zstd, lz4, snappy). Empty disables compression"))

	key = "compression-factor"
	cmd.PersistentFlags().Int(key, config.DefaultCompressionFactor, WrapString("Compression level (1-22)"))

	key = "cache-capacity"
	cmd.PersistentFlags().Uint64(key, config.DefaultCacheCapacity, WrapString("Bytes reserved for the page cache"))

	key = "read-only"
	cmd.PersistentFlags().Bool(key, false, WrapString("Open the database without write access"))

	key = "profile"
	cmd.PersistentFlags().Bool(key, false, WrapString("Log a latency profile when the database is closed"))

	key = "workers"
	cmd.PersistentFlags().Int(key, 0, WrapString("Number of workers running blocking operations (0 = default)"))
}

// InitConfig loads .env files and makes viper read NKV_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("nkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetOptions builds the option map for config.New from the bound flags
func GetOptions() map[string]any {
	options := map[string]any{
		config.KeyPath:               viper.GetString("path"),
		config.KeyMode:               viper.GetString("mode"),
		config.KeyFlushEveryMs:       viper.GetInt("flush-every-ms"),
		config.KeyCompressionFactor:  viper.GetInt("compression-factor"),
		config.KeyCacheCapacity:      viper.GetUint64("cache-capacity"),
		config.KeyReadOnly:           viper.GetBool("read-only"),
		config.KeyPrintProfileOnDrop: viper.GetBool("profile"),
		config.KeyTemporary:          viper.GetBool("temporary"),
	}
	if algorithm := viper.GetString("compression"); algorithm != "" {
		options[config.KeyUseCompression] = true
		options[config.KeyCompressionAlgorithm] = algorithm
	}
	return options
}

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// Session is a loaded module together with the database described by the flags
type Session struct {
	Module *native.Module
	DB     *resource.Handle
	Config *resource.Handle
}

// OpenSession initialises the loggers, loads the module and opens the database
func OpenSession(ctx context.Context) (*Session, error) {
	if err := logging.InitLoggers(viper.GetString("log-level")); err != nil {
		return nil, err
	}

	m, err := native.Load(native.WithWorkers(viper.GetInt("workers")))
	if err != nil {
		return nil, err
	}

	cfg, err := m.ConfigNew(GetOptions())
	if err != nil {
		m.Close()
		return nil, err
	}
	Logger.Debugf("opening database at %s (config %s)", viper.GetString("path"), cfg)

	dbh, err := m.ConfigOpen(ctx, cfg)
	if err != nil {
		_ = cfg.Release()
		m.Close()
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	return &Session{Module: m, DB: dbh, Config: cfg}, nil
}

// Tree opens the tree selected with the --tree flag (the default tree if empty)
func (s *Session) Tree(ctx context.Context) (*resource.Handle, error) {
	name := viper.GetString("tree")
	if name == "" {
		name = bolt.DefaultTreeName
	}
	return s.Module.TreeOpen(ctx, s.DB, []byte(name))
}

// Close releases all handles (which closes the database) and stops the module
func (s *Session) Close() {
	_ = s.DB.Release()
	_ = s.Config.Release()
	s.Module.Close()
}
