package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newPersonasCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Inspect available personas",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List personas from the configured directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := newPersonaProvider()
			if err != nil {
				return err
			}
			if provider == nil {
				return errors.New("no personas directory configured (--personas-dir or SPELLBOOK_PERSONAS_DIR)")
			}
			names, err := provider.List()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Show one persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := newPersonaProvider()
			if err != nil {
				return err
			}
			if provider == nil {
				return errors.New("no personas directory configured (--personas-dir or SPELLBOOK_PERSONAS_DIR)")
			}
			p, err := provider.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name: %s\nsource: %s\nsystem message: %s\n", p.Name, p.Source, p.SystemMessage)
			for key, value := range p.Params {
				fmt.Printf("param %s = %v\n", key, value)
			}
			return nil
		},
	})

	return cmd
}
