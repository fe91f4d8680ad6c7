package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"spellcast/internal/secrets"
)

func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store provider API keys encrypted, outside the config file",
		Long:  "Keys are looked up by environment variable name, e.g. OPENAI_API_KEY. The environment wins over the store.",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set NAME VALUE",
			Short: "Store a secret",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openSecrets()
				if err != nil {
					return err
				}
				if err := store.Set(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			},
		},
		&cobra.Command{
			Use:   "get NAME",
			Short: "Print a stored secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openSecrets()
				if err != nil {
					return err
				}
				v, err := store.Get(args[0])
				if errors.Is(err, secrets.ErrNotFound) {
					return fmt.Errorf("secret %q not found", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete NAME",
			Short: "Remove a stored secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openSecrets()
				if err != nil {
					return err
				}
				return store.Delete(args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored secret names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openSecrets()
				if err != nil {
					return err
				}
				names, err := store.Names()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			},
		},
	)
	return cmd
}
