// Command reftable-dump inspects reftable files from the command line:
// it prints a table's header properties, a single table's refs or one
// ref's reflog, or the merged ref view across a stack of tables. It
// exists purely as a debugging aid around the
// reftable package and performs no writes of its own.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/petermattis/reftable/reftable"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reftable-dump",
		Short: "Inspect reftable files",
	}
	root.AddCommand(newLayoutCmd())
	root.AddCommand(newRefsCmd())
	root.AddCommand(newLogCmd())
	root.AddCommand(newStackCmd())
	return root
}

func openReader(path string) (*reftable.Reader, error) {
	src, err := reftable.OpenFileSource(path)
	if err != nil {
		return nil, err
	}
	r, err := reftable.NewReader(src, path, nil)
	if err != nil {
		src.Close()
		return nil, err
	}
	return r, nil
}

// newLayoutCmd prints one table's properties: its name, hash identifier,
// and declared update index range, one row per property. Sub-stream
// presence and the data and index offsets are not printed. Modeled on
// table.go's Layout.Describe, which renders one row per block/property
// rather than a raw hex dump.
func newLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout <table>",
		Short: "Print a table's name, hash id, and update-index range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"property", "value"})
			table.Append([]string{"name", r.Name()})
			table.Append([]string{"hash_id", fmt.Sprintf("%s", r.HashID())})
			table.Append([]string{"min_update_index", fmt.Sprintf("%d", r.MinUpdateIndex())})
			table.Append([]string{"max_update_index", fmt.Sprintf("%d", r.MaxUpdateIndex())})
			table.Render()
			return nil
		},
	}
}

// newRefsCmd prints every ref record of a single table at or after a
// starting key, deletions included (shown as "<deleted>"); there is no
// merge across a stack (see "stack").
func newRefsCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "refs <table>",
		Short: "List ref records in a single table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			it, err := r.SeekRef([]byte(from))
			if err != nil {
				return err
			}
			defer it.Close()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"name", "update_index", "value"})
			for {
				rec, err := it.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				ref := rec.(*reftable.RefRecord)
				table.Append([]string{
					string(ref.RefName),
					fmt.Sprintf("%d", ref.UpdateIndex),
					describeRefValue(ref),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start listing at this ref name")
	return cmd
}

func describeRefValue(ref *reftable.RefRecord) string {
	switch ref.Value {
	case reftable.RefValueDeletion:
		return "<deleted>"
	case reftable.RefValueDirect:
		return fmt.Sprintf("%x", ref.Target)
	case reftable.RefValuePeeled:
		return fmt.Sprintf("%x (peeled %x)", ref.Target, ref.PeeledTarget)
	case reftable.RefValueSymref:
		return fmt.Sprintf("-> %s", ref.SymrefTarget)
	default:
		return "?"
	}
}

// newLogCmd prints reflog entries for one ref name, newest first.
func newLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <table> <refname>",
		Short: "List reflog entries for a ref in a single table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			it, err := r.SeekLog([]byte(args[1]))
			if err != nil {
				return err
			}
			defer it.Close()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"update_index", "old", "new", "who", "message"})
			for {
				rec, err := it.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				log := rec.(*reftable.LogRecord)
				if string(log.RefName) != args[1] {
					break
				}
				who := fmt.Sprintf("%s <%s>", log.Name, log.Email)
				if log.Deletion {
					table.Append([]string{fmt.Sprintf("%d", log.UpdateIndex), "", "", who, "<deleted>"})
					continue
				}
				table.Append([]string{
					fmt.Sprintf("%d", log.UpdateIndex),
					fmt.Sprintf("%x", log.OldHash),
					fmt.Sprintf("%x", log.NewHash),
					who,
					log.Message,
				})
			}
			table.Render()
			return nil
		},
	}
}

// newStackCmd merges a list of tables, oldest first, and prints the
// resulting ref view: the same last-writer-wins collapse a real stack
// file backs, without this package opining on how that stack file is
// named or maintained (out of scope; see SPEC_FULL.md section 6).
func newStackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stack <table...>",
		Short: "Merge tables (oldest first) and list the resulting refs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var readers []*reftable.Reader
			defer func() {
				for _, r := range readers {
					r.Close()
				}
			}()
			for _, path := range args {
				r, err := openReader(path)
				if err != nil {
					return err
				}
				readers = append(readers, r)
			}

			merged, err := reftable.NewMergedTable(reftable.Stack{Readers: readers})
			if err != nil {
				return err
			}

			it, err := merged.SeekRef(nil)
			if err != nil {
				return err
			}
			defer it.Close()

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"name", "update_index", "value"})
			for {
				rec, err := it.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				ref := rec.(*reftable.RefRecord)
				table.Append([]string{
					string(ref.RefName),
					fmt.Sprintf("%d", ref.UpdateIndex),
					describeRefValue(ref),
				})
			}
			table.Render()
			return nil
		},
	}
}
