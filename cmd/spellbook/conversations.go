package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/spellbook/pkg/store"
)

func newConversationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Inspect persisted conversations",
	}

	requireStore := func() (store.Store, error) {
		st, err := newStore()
		if err != nil {
			return nil, err
		}
		if st == nil {
			return nil, errors.New("no database configured (--db or SPELLBOOK_DB)")
		}
		return st, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List persisted conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := requireStore()
			if err != nil {
				return err
			}
			entries, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Printf("%s  %s  %d messages, %d turns, %d tokens\n",
					entry.ID,
					entry.Metadata.SavedAt.Format("2006-01-02 15:04"),
					entry.Metadata.MessageCount,
					entry.Metadata.Turns,
					entry.Metadata.TotalTokens,
				)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Print a persisted conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := requireStore()
			if err != nil {
				return err
			}
			messages, _, err := st.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, msg := range messages {
				fmt.Println(msg.View())
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a persisted conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := requireStore()
			if err != nil {
				return err
			}
			return st.Delete(cmd.Context(), args[0])
		},
	})

	return cmd
}
