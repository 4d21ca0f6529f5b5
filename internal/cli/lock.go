package cli

import (
	"errors"
	"fmt"

	"filelocker/internal/locker"
	"filelocker/internal/util"

	"github.com/spf13/cobra"
)

// passwordOptions are the credential flags shared by lock, unlock and info.
type passwordOptions struct {
	password string
	stdin    bool
}

func (p *passwordOptions) register(cmd *cobra.Command, usage string) {
	cmd.Flags().StringVarP(&p.password, "password", "p", "", usage+" (visible in shell history)")
	cmd.Flags().BoolVarP(&p.stdin, "password-stdin", "P", false, "Read password from stdin")
}

// read returns the password from the flag, stdin, or an interactive prompt.
func (p *passwordOptions) read(a *app, confirm bool) (string, error) {
	switch {
	case p.stdin:
		return ReadPasswordFromStdin(a.in)
	case p.password != "":
		return p.password, nil
	default:
		pw, err := ReadPasswordInteractive(a.in, a.errOut, confirm)
		if err != nil {
			return "", fmt.Errorf("password input: %w", err)
		}
		return pw, nil
	}
}

type lockOptions struct {
	passwordOptions
	keep     bool
	parallel bool
	quiet    bool
}

func newLockCommand(a *app) *cobra.Command {
	var opts lockOptions

	cmd := &cobra.Command{
		Use:   "lock <path>...",
		Short: "Lock files or folders into containers",
		Long: `Lock one or more files or folders. Each becomes a container named
<uuid>.locked in the base directory, and the original is removed unless
--keep is given.

If no password is provided, you will be prompted to enter one interactively
(with confirmation). The password is hidden while typing.

Examples:
  # Lock interactively (prompts for password)
  filelocker lock secret.txt

  # Lock a folder and keep the original
  filelocker lock --keep ~/Documents/taxes

  # Force parallel packs for a large file
  filelocker lock --parallel movie.mkv

  # Read password from stdin (for scripts)
  echo "mypassword" | filelocker lock -P secret.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLock(cmd, args, opts)
		},
	}

	opts.register(cmd, "Locking password")
	cmd.Flags().BoolVarP(&opts.keep, "keep", "k", false, "Keep the original after locking")
	cmd.Flags().BoolVar(&opts.parallel, "parallel", false, "Encrypt in parallel packs regardless of size")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func (a *app) runLock(cmd *cobra.Command, paths []string, opts lockOptions) error {
	password, err := opts.read(a, true)
	if err != nil {
		return err
	}

	reporter := NewReporter(a.errOut, opts.quiet)
	if score := PasswordScore(password); score < WeakPasswordScore {
		reporter.PrintWarning("weak password (strength %d of 4)", score)
	}

	m, closeFn, err := a.manager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	args := locker.Args{
		Password:     password,
		KeepOriginal: opts.keep,
		Parallel:     opts.parallel,
		Reporter:     reporter,
	}

	failed := 0
	for _, path := range paths {
		item := locker.NewItem(path)
		err := m.EncodeOne(cmd.Context(), item, args)
		reporter.Finish()
		if err != nil {
			failed++
			reporter.PrintError("%s: %s", path, locker.UserMessage(err))
			continue
		}

		meta := item.Trailer.Metadata
		reporter.PrintSuccess("Locked %s (%s, %s) as %s",
			path, meta.FileType, util.Sizeify(meta.Extras.Size), item.ID)
		fmt.Fprintln(a.out, item.ID)
	}

	return failureSummary("lock", failed, len(paths))
}

// failureSummary is the command error after per-item errors were printed.
func failureSummary(verb string, failed, total int) error {
	switch {
	case failed == 0:
		return nil
	case total == 1:
		return errors.New(verb + " failed")
	default:
		return fmt.Errorf("%s failed for %d of %d items", verb, failed, total)
	}
}
