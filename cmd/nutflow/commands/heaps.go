package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var heapsPoll bool

var heapsCmd = &cobra.Command{
	Use:   "heaps",
	Short: "Show the resolved heaps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]string, 0, len(NF.Heaps))
		for id := range NF.Heaps {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HEAP\tNUTS\tGENERATION\tUPDATED")
		for _, id := range ids {
			h := NF.Heaps[id]
			if heapsPoll {
				if _, err := h.Poll(cmd.Context()); err != nil {
					return fmt.Errorf("poll %s failed: %w", id, err)
				}
			}
			st := h.State()
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", st.ID, st.Count, st.Generation, st.UpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "List workflows and their stage chains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WORKFLOW\tHEAP\tCHAIN")
		for _, id := range NF.Orchestrator.WorkflowIDs() {
			wf, _ := NF.Orchestrator.Workflow(id)
			fmt.Fprintf(w, "%s\t%s\t%v\n", wf.ID, wf.HeapID, wf.Chain.Signature())
		}
		return w.Flush()
	},
}

func init() {
	heapsCmd.Flags().BoolVar(&heapsPoll, "poll", false, "poll every heap once before printing")
	rootCmd.AddCommand(heapsCmd, workflowsCmd)
}
