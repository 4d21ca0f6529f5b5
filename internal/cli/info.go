package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"filelocker/internal/locker"
	"filelocker/internal/trailer"
	"filelocker/internal/util"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

type infoOptions struct {
	passwordOptions
	thumbnail string
}

func newInfoCommand(a *app) *cobra.Command {
	var opts infoOptions

	cmd := &cobra.Command{
		Use:   "info <container|id>",
		Short: "Show the trailer of a container",
		Long: `Show the metadata stored in a container's trailer, or why it does not
parse. With --thumbnail the preview is decrypted and written to a file,
which needs the password.

Examples:
  filelocker info 0d5c7a2e-8f43-4b7e-9c1d-3f0e2a6b9d14
  filelocker info --thumbnail preview.jpg 0d5c7a2e-8f43-4b7e-9c1d-3f0e2a6b9d14`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInfo(cmd.Context(), args[0], opts)
		},
	}

	opts.register(cmd, "Password, for --thumbnail")
	cmd.Flags().StringVar(&opts.thumbnail, "thumbnail", "", "Write the decrypted thumbnail to this file")
	return cmd
}

func (a *app) runInfo(ctx context.Context, target string, opts infoOptions) error {
	path := a.containerPath(target)

	tr, err := trailer.InspectFile(path)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", target, locker.UserMessage(err), err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	m, closeFn, err := a.manager(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	item := m.Open(path)
	record, err := m.Record(ctx, item.ID)
	if err != nil {
		return err
	}

	meta := tr.Metadata
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Path:\t%s\n", path)
	fmt.Fprintf(w, "Original:\t%s\n", meta.OriginalName)
	fmt.Fprintf(w, "Kind:\t%s\n", kindOf(&meta))
	fmt.Fprintf(w, "Type:\t%s\n", meta.FileType)
	fmt.Fprintf(w, "Size:\t%s\n", util.Sizeify(meta.Extras.Size))
	fmt.Fprintf(w, "Ciphertext:\t%s\n", util.Sizeify(tr.PayloadSize(info.Size())))
	if meta.Chunked() {
		fmt.Fprintf(w, "Packs:\t%s each\n", util.Sizeify(meta.PackSize))
	} else {
		fmt.Fprintf(w, "Packs:\tsingle stream\n")
	}
	if t := trailer.FromMillis(meta.Extras.LastWriteTime); !t.IsZero() {
		fmt.Fprintf(w, "Modified:\t%s\n", t.Format("2006-01-02 15:04:05"))
	}
	if d := meta.Extras.Dimension; d != nil {
		fmt.Fprintf(w, "Dimensions:\t%dx%d\n", d.Width, d.Height)
	}
	fmt.Fprintf(w, "Thumbnail:\t%s (encrypted: %t)\n", util.Sizeify(int64(meta.ThumbnailSize)), meta.Extras.IsThumbnailEncrypted)
	if record != nil {
		fmt.Fprintf(w, "Locked:\t%s (%s)\n", record.CreatedAt.Format("2006-01-02 15:04:05"), humanize.Time(record.CreatedAt))
	}
	fmt.Fprintf(w, "Format:\tversion %d, %s\n", meta.Version, meta.Platform)
	if err := w.Flush(); err != nil {
		return err
	}

	if opts.thumbnail == "" {
		return nil
	}
	return a.writeThumbnail(m, item, opts)
}

func (a *app) writeThumbnail(m *locker.Manager, item *locker.Item, opts infoOptions) error {
	var err error
	password := ""
	if item.Trailer != nil && item.Trailer.Metadata.Extras.IsThumbnailEncrypted {
		if password, err = opts.read(a, false); err != nil {
			return err
		}
	}

	thumb, err := m.Thumbnail(item, password)
	if err != nil {
		return fmt.Errorf("thumbnail: %s: %w", locker.UserMessage(err), err)
	}
	if thumb == nil {
		return fmt.Errorf("container has no thumbnail")
	}
	if err := os.WriteFile(opts.thumbnail, thumb, 0o600); err != nil {
		return fmt.Errorf("writing thumbnail: %w", err)
	}
	fmt.Fprintf(a.errOut, "Thumbnail written to %s\n", opts.thumbnail)
	return nil
}

func kindOf(m *trailer.Metadata) string {
	if m.IsFile {
		return "file"
	}
	return "folder"
}
