package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lsfs/lsfs/pkg/models"
	"github.com/lsfs/lsfs/pkg/tree"
)

func newTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <transcript>",
		Short: "Print the tree a transcript describes",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.loadTree(cmd.Context(), args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return printTree(cmd.OutOrStdout(), t)
		},
	}
}

// printTree writes one line per entry, indented by depth.
func printTree(w io.Writer, t *tree.Tree) error {
	return t.Walk(func(path string, e *models.Entry) error {
		depth := 0
		name := "/"
		if e.ID != models.RootID {
			depth = strings.Count(path, "/")
			name = e.Name
		}
		indent := strings.Repeat("  ", depth)

		var err error
		if e.IsDir() {
			_, err = fmt.Fprintf(w, "%s- %s (dir, id=%d)\n", indent, name, e.ID)
		} else {
			_, err = fmt.Fprintf(w, "%s- %s (file, size=%d, id=%d)\n", indent, name, e.Size(), e.ID)
		}
		return err
	})
}

func newDuCmd(a *app) *cobra.Command {
	var maxSize uint64

	cmd := &cobra.Command{
		Use:   "du <transcript>",
		Short: "Show the recursive size of every directory",
		Long: `du lists every directory with the total size of the files beneath it.
With --max, only directories whose total is at most that many bytes are listed
and the footer sums them.`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.loadTree(cmd.Context(), args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			return printDu(cmd.OutOrStdout(), t, maxSize)
		},
	}
	cmd.Flags().Uint64Var(&maxSize, "max", 0, "Only list directories of at most this many bytes (0 = all)")
	return cmd
}

// dirUsage is one row of du output.
type dirUsage struct {
	ID   uint64
	Path string
	Size uint64
}

// diskUsage returns directories in walk order, filtered to size <= maxSize
// when maxSize is non-zero.
func diskUsage(t *tree.Tree, maxSize uint64) []dirUsage {
	sizes := t.DirSizes()

	var rows []dirUsage
	_ = t.Walk(func(path string, e *models.Entry) error {
		if !e.IsDir() {
			return nil
		}
		size := sizes[e.ID]
		if maxSize == 0 || size <= maxSize {
			rows = append(rows, dirUsage{ID: e.ID, Path: path, Size: size})
		}
		return nil
	})
	return rows
}

func printDu(w io.Writer, t *tree.Tree, maxSize uint64) error {
	rows := diskUsage(t, maxSize)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Path", "Size"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")

	var sum uint64
	for _, r := range rows {
		sum += r.Size
		table.Append([]string{strconv.FormatUint(r.ID, 10), r.Path, strconv.FormatUint(r.Size, 10)})
	}
	if maxSize > 0 {
		table.SetFooter([]string{"", "Total", strconv.FormatUint(sum, 10)})
	}
	table.Render()
	return nil
}
