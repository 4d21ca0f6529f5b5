package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"filelocker/internal/config"
	"filelocker/internal/locker"
	"filelocker/internal/log"
	"filelocker/internal/registry"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RegistryFile is the name of the item database inside the base directory.
const RegistryFile = "items.db"

// app is the state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	cfg     config.Config
	verbose bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// NewRootCommand builds the command tree. in, out and errOut replace
// stdin, stdout and stderr.
func NewRootCommand(version string, in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "filelocker",
		Short: "Password-protected file and folder containers",
		Long: `filelocker turns files and folders into password-protected containers
kept in a base directory, and restores them.

  - PBKDF2-HMAC-SHA1 key derivation from the password and a configured salt
  - AES-256-CBC with PKCS#7 padding
  - Large inputs are split into packs encrypted in parallel
  - Metadata and an encrypted thumbnail are stored in a trailer

Settings come from flags, FILELOCKER_* environment variables and an
optional config file, in that order of precedence.`,
		Version:           version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	d := config.Default()
	flags := root.PersistentFlags()
	flags.String(config.KeyConfigFile, "", "Config file (yaml, toml or json)")
	flags.String(config.KeyBaseDir, d.BaseDir, "Directory holding the containers")
	flags.String(config.KeySalt, d.Salt, "Key derivation salt; containers only open with the salt they were locked with")
	flags.Int(config.KeyIterations, d.Iterations, "PBKDF2 iterations")
	flags.Int(config.KeyKeyBits, d.KeyBits, "Bits of derived key material (key + IV)")
	flags.Int64(config.KeyPackSize, d.PackSize, "Plaintext bytes per pack in chunked mode")
	flags.Int(config.KeyWorkers, d.Workers, "Pack workers (0 = one per CPU)")
	flags.Int64(config.KeyParallelThreshold, d.ParallelThreshold, "Inputs at least this large are chunked (0 = only with --parallel)")
	flags.Bool(config.KeyThumbnails, d.Thumbnails, "Store encrypted thumbnails for images")
	flags.Int(config.KeyThumbnailSize, d.ThumbnailSize, "Longest thumbnail side in pixels")
	flags.BoolVar(&a.verbose, "verbose", false, "Log to stderr")

	for _, key := range []string{
		config.KeyConfigFile, config.KeyBaseDir, config.KeySalt, config.KeyIterations,
		config.KeyKeyBits, config.KeyPackSize, config.KeyWorkers,
		config.KeyParallelThreshold, config.KeyThumbnails, config.KeyThumbnailSize,
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		newLockCommand(a),
		newUnlockCommand(a),
		newListCommand(a),
		newInfoCommand(a),
	)
	return root
}

// setup loads the configuration and installs the logger.
func (a *app) setup(*cobra.Command, []string) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.verbose {
		handler := slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: slog.LevelDebug})
		log.SetLogger(log.NewSlogLogger(slog.New(handler)))
	}
	return nil
}

// manager opens the registry and returns a manager using it. close
// releases the registry.
func (a *app) manager(ctx context.Context) (m *locker.Manager, closeFn func(), err error) {
	if err := os.MkdirAll(a.cfg.BaseDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating base directory: %w", err)
	}

	store, err := registry.Open(ctx, filepath.Join(a.cfg.BaseDir, RegistryFile))
	if err != nil {
		return nil, nil, err
	}

	m, err = locker.New(a.cfg, locker.WithRegistry(store), locker.WithLogger(log.GetLogger()))
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return m, func() { _ = store.Close() }, nil
}

// containerPath resolves a container argument: an existing path, or an
// item ID in the base directory.
func (a *app) containerPath(arg string) string {
	if _, err := os.Stat(arg); err == nil {
		return arg
	}
	return filepath.Join(a.cfg.BaseDir, arg+locker.ContainerExt)
}

// Execute runs the CLI and returns the process exit code. SIGINT and
// SIGTERM cancel the running operation.
func Execute(version string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(version, os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
