package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/identhost/drivesync/auth"
	"github.com/identhost/drivesync/core"
	"github.com/identhost/drivesync/cryptox"
	"github.com/identhost/drivesync/internal/config"
	"github.com/identhost/drivesync/internal/logging"
)

var (
	flagConfig   string
	flagIdentity string
	flagRoot     string
	flagToken    string
	flagVerbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "drivectl",
	Short: "drivectl operates on an identity's encrypted drives",
	Long: `drivectl is a command-line client for identity-hosted drives: it
queries, reads, uploads and deletes files, manages drives, and drains the
cross-identity inbox.

The session password is read from the DRIVECTL_PASSWORD environment
variable or prompted interactively; the derived shared secret is held in
memory only and never written to disk.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", defaultConfigPath(), "path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&flagIdentity, "identity", "", "identity hostname (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "API root URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "access token (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "drivectl", "drivectl.toml")
}

func newLogger(cfg *config.Config) logging.Logger {
	level := slog.LevelInfo
	if flagVerbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return logging.NewSlogLogger(slog.New(handler))
}

func loadConfig() (*config.Config, error) {
	overrides := config.FlagOverrides{}
	if flagIdentity != "" {
		overrides.Identity = &flagIdentity
	}
	if flagRoot != "" {
		overrides.Root = &flagRoot
	}
	if flagToken != "" {
		overrides.AccessToken = &flagToken
	}

	path := flagConfig
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
			// The default config file is optional.
			path = ""
		}
	}
	return config.Load(config.LoaderOptions{
		ConfigPath:    path,
		FlagOverrides: overrides,
	})
}

// readPassword is a seam for tests.
var readPassword = func() ([]byte, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(int(syscall.Stdin))
}

func sessionSecret(identity string) ([]byte, error) {
	password := []byte(os.Getenv("DRIVECTL_PASSWORD"))
	if len(password) == 0 {
		var err error
		password, err = readPassword()
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("empty password")
	}
	defer cryptox.Wipe(password)
	return auth.DeriveSharedSecret(password, []byte(identity)), nil
}

// httpClientFor builds the session's HTTP client with the configured
// request timeout.
func httpClientFor(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.HTTPTimeout()}
}

// newSession builds the client for a command. withSecret commands derive
// the session's shared secret; anonymous reads skip the prompt.
func newSession(withSecret bool) (*core.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := []core.Option{
		core.WithLogger(newLogger(cfg)),
		core.WithHTTPClient(httpClientFor(cfg)),
	}
	if cfg.Root != "" {
		opts = append(opts, core.WithRoot(cfg.Root))
	}
	if cfg.AccessToken != "" {
		opts = append(opts, core.WithAccessToken(cfg.AccessToken))
	}
	if withSecret {
		secret, err := sessionSecret(cfg.Identity)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, core.WithSharedSecret(secret))
	}
	return core.New(cfg.Identity, opts...), cfg, nil
}

func mountFor(cfg *config.Config, name string) (config.DriveMount, error) {
	mount, ok := cfg.Mount(name)
	if !ok {
		return config.DriveMount{}, fmt.Errorf("no drive mount %q in config (have %d mounts)", name, len(cfg.Mounts()))
	}
	return mount, nil
}
