package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:          "kgqa",
		Short:        "Answer questions over the environmental assessment knowledge graph",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (YAML); KGQA_* environment variables override it")

	root.AddCommand(askCMD(&cfgPath), serveCMD(&cfgPath), historyCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
