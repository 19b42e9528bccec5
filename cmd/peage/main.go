package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "peage",
	Short: "Peage — Metered Capability Orchestrator",
	Long:  "Peage is a policy-gated orchestrator for metered tool calls: a conversational model plans calls against priced capabilities, and every call is checked against budgets, endpoint allowlists, and payee allowlists before any money moves.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/peage.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
