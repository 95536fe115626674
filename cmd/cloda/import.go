package main

import (
	"fmt"

	"github.com/matta/cloda/internal/ingest"
	"github.com/matta/cloda/internal/notmuch"
	"github.com/matta/cloda/internal/persist"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	importWorkers int
	notmuchQuery  string
	notmuchBinary string
)

var importCmd = &cobra.Command{
	Use:   "import PATH...",
	Short: "Import RFC 822 message files",
	Long: `Import reads every regular file below the given paths as an RFC 822
message and stores the message together with its contacts and
identities.  Hidden files and directories are skipped.

With --notmuch the files of the messages matching the notmuch query
are imported as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if notmuchQuery != "" {
			nm, err := notmuch.New(cmd.Context(), notmuchBinary)
			if err != nil {
				return errors.Wrap(err, "unable to initialize notmuch")
			}
			files, err := nm.Files(cmd.Context(), notmuchQuery)
			if err != nil {
				return err
			}
			a.logger.Info("notmuch query", "query", notmuchQuery, "files", len(files))
			args = append(args, files...)
		}
		if len(args) == 0 {
			return errors.New("nothing to import")
		}

		im := ingest.NewImporter(a.store)
		im.Logger = a.logger
		im.Workers = importWorkers
		profile, err := im.Import(cmd.Context(), args)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "wrote %d messages, %d contacts, %d identities\n",
			profile.Messages, profile.Contacts, profile.Identities)

		if db, ok := a.store.(*persist.DB); ok {
			total, err := db.Profile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "store holds %d messages, %d contacts, %d identities\n",
				total.Messages, total.Contacts, total.Identities)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().IntVarP(&importWorkers, "workers", "j", 4, "number of files parsed concurrently")
	importCmd.Flags().StringVar(&notmuchQuery, "notmuch", "", "also import the messages matching this notmuch query")
	importCmd.Flags().StringVar(&notmuchBinary, "notmuch-binary", notmuch.DefaultBinary, "notmuch command")
	rootCmd.AddCommand(importCmd)
}
