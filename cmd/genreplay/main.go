// genreplay 重放录制的 turn (YAML 场景或 JSONL 帧) 并打印最终结果。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/multi-agent/genruntime/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "genreplay",
	Short:         "Replay recorded generation streams through the runtime",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		logger.Init(os.Getenv("LOG_ENV"))
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "genreplay: %v\n", err)
		os.Exit(1)
	}
}
