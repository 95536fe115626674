package main

import (
	"strings"

	"github.com/matta/cloda/internal/message"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query CONTACT...",
	Short: "List the conversations involving every given contact",
	Long: `Query lists, newest first, the conversations that involve all of the
given contacts.  A contact is named by its id or by one of its
identities written as type:value, for example email:alice@example.com.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var ids []string
		for _, arg := range args {
			if !strings.Contains(arg, ":") {
				ids = append(ids, arg)
				continue
			}
			id, err := message.ParseIdentityID(arg)
			if err != nil {
				return err
			}
			contacts, err := a.directory.ByIdentity(ctx, []message.IdentityID{id})
			if err != nil {
				return err
			}
			if len(contacts) == 0 {
				a.logger.Warn("identity has no contact", "identity", id)
				return nil
			}
			ids = append(ids, contacts[0].ID)
		}

		convs, err := a.engine.QueryByInvolvedContacts(ctx, ids)
		if err != nil {
			return err
		}
		for _, c := range convs {
			printSummary(cmd.OutOrStdout(), c)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
}
