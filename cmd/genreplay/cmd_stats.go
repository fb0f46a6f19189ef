package main

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/multi-agent/genruntime/internal/replay"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats <file>",
	Short: "Print tool activity statistics per scenario",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarios, err := replay.LoadFile(args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCENARIO\tSTATUS\tTOOLS\tDONE\tFAILED\tINTERRUPTED\tAPPROVALS\tAUTHS\tDURATION_MS\tTOP_TOOL")
		for _, sc := range scenarios {
			res, err := replay.Run(sc, replay.Options{})
			if err != nil {
				return err
			}
			st := res.Stats
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
				res.Name,
				res.Snapshot.TraceStatus,
				st.TotalToolCalls,
				st.CompletedToolCalls,
				st.FailedToolCalls,
				st.InterruptedToolCalls,
				st.Approvals.Approved+st.Approvals.Denied+st.Approvals.Pending,
				st.AuthCheckpoints,
				st.TotalDurationMS,
				topTool(st.ByTool),
			)
		}
		return w.Flush()
	},
}

// topTool 返回调用次数最多的工具 (并列时按名称排序取第一个)。
func topTool(byTool map[string]int64) string {
	best, bestN := "-", int64(0)
	for _, name := range slices.Sorted(maps.Keys(byTool)) {
		if n := byTool[name]; n > bestN {
			best, bestN = name, n
		}
	}
	return best
}
