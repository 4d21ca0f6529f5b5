package cli

import (
	"fmt"

	"filelocker/internal/locker"

	"github.com/spf13/cobra"
)

type unlockOptions struct {
	passwordOptions
	keep      bool
	overwrite bool
	recovered bool
	quiet     bool
}

func newUnlockCommand(a *app) *cobra.Command {
	var opts unlockOptions

	cmd := &cobra.Command{
		Use:   "unlock <container|id>...",
		Short: "Restore locked items",
		Long: `Unlock containers, given as paths or as item IDs in the base directory.

By default the item is restored to the path it was locked from; with
--recovered it goes to the "recovered" folder of the base directory.
An existing file is never replaced unless --overwrite is given: the item
is written as "name (1).ext" instead.

Examples:
  # Unlock by ID
  filelocker unlock 0d5c7a2e-8f43-4b7e-9c1d-3f0e2a6b9d14

  # Unlock into the recovered folder and keep the container
  filelocker unlock --recovered --keep ~/.filelocker/0d5c7a2e-8f43-4b7e-9c1d-3f0e2a6b9d14.locked

  # Read password from stdin (for scripts)
  echo "mypassword" | filelocker unlock -P 0d5c7a2e-8f43-4b7e-9c1d-3f0e2a6b9d14`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runUnlock(cmd, args, opts)
		},
	}

	opts.register(cmd, "Unlocking password")
	cmd.Flags().BoolVarP(&opts.keep, "keep", "k", false, "Keep the container after unlocking")
	cmd.Flags().BoolVarP(&opts.overwrite, "overwrite", "y", false, "Replace an existing item at the destination")
	cmd.Flags().BoolVar(&opts.recovered, "recovered", false, "Restore into the recovered folder instead of the original path")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Suppress progress output")
	return cmd
}

func (a *app) runUnlock(cmd *cobra.Command, targets []string, opts unlockOptions) error {
	password, err := opts.read(a, false)
	if err != nil {
		return err
	}

	m, closeFn, err := a.manager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	reporter := NewReporter(a.errOut, opts.quiet)
	args := locker.Args{
		Password:          password,
		KeepOriginal:      opts.keep,
		OverwriteExisting: opts.overwrite,
		ExportType:        locker.ExportOriginal,
		Reporter:          reporter,
	}
	if opts.recovered {
		args.ExportType = locker.ExportRecovered
	}

	failed := 0
	for _, target := range targets {
		item := m.Open(a.containerPath(target))
		err := m.DecodeOne(cmd.Context(), item, args)
		reporter.Finish()
		if err != nil {
			failed++
			reporter.PrintError("%s: %s", target, locker.UserMessage(err))
			continue
		}

		reporter.PrintSuccess("Unlocked %s", item.InputInfo)
		fmt.Fprintln(a.out, item.InputInfo)
	}

	return failureSummary("unlock", failed, len(targets))
}
