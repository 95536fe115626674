package main

import (
	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show CONVERSATION...",
	Short: "Print conversations as reply trees",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convs, err := a.engine.Conversations(cmd.Context(), args)
		if err != nil {
			return err
		}
		for _, c := range convs {
			printThread(cmd.OutOrStdout(), c)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
