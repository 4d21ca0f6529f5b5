package cli

import (
	"fmt"
	"text/tabwriter"

	"filelocker/internal/locker"
	"filelocker/internal/trailer"
	"filelocker/internal/util"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the containers in the base directory, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, closeFn, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			items, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeItems(a, items)
		},
	}
}

func writeItems(a *app, items []*locker.Item) error {
	if len(items) == 0 {
		fmt.Fprintln(a.errOut, "No locked items.")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSIZE\tMODIFIED")
	for _, it := range items {
		if it.Corrupted || it.Trailer == nil {
			fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\n", it.ID, it.Name(), "corrupted")
			continue
		}
		meta := it.Trailer.Metadata
		modified := "-"
		if t := trailer.FromMillis(meta.Extras.LastWriteTime); !t.IsZero() {
			modified = humanize.Time(t)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			it.ID, it.Name(), meta.FileType, util.Sizeify(meta.Extras.Size), modified)
	}
	return w.Flush()
}
