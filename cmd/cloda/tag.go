package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tagCmd = &cobra.Command{
	Use:   "tag CONVERSATION MESSAGE TAG",
	Short: "Add a tag to a message and store it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, msgID, tag := args[0], args[1], args[2]
		convs, err := a.engine.Conversations(cmd.Context(), []string{convID})
		if err != nil {
			return err
		}
		for _, c := range convs {
			for _, m := range c.Messages {
				if m.ID() == msgID {
					return m.AddTag(cmd.Context(), tag)
				}
			}
		}
		return fmt.Errorf("no message %s in conversation %s", msgID, convID)
	},
}

func init() {
	rootCmd.AddCommand(tagCmd)
}
