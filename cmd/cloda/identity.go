package main

import (
	"fmt"

	"github.com/matta/cloda/internal/message"

	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity TYPE:VALUE...",
	Short: "Resolve identities and print their contacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ids := make([]message.IdentityID, len(args))
		for i, arg := range args {
			id, err := message.ParseIdentityID(arg)
			if err != nil {
				return err
			}
			ids[i] = id
		}

		idtys, err := a.resolver.Resolve(ctx, ids)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, idty := range idtys {
			if idty.Empty() {
				fmt.Fprintf(out, "%s\tunknown\n", ids[i])
				continue
			}
			fmt.Fprintf(out, "%s\t%s\n", idty.ID, idty.Name)
			contacts, err := a.directory.ByIdentity(ctx, ids[i:i+1])
			if err != nil {
				return err
			}
			for _, c := range contacts {
				printContact(out, c)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(identityCmd)
}
