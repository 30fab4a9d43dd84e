package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lgc202/stripe-go-kit/version"
)

func (a *App) newVersionCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Version needs no settings.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if a.jsonOutput {
				output = "json"
			}
			switch output {
			case "json":
				s, err := info.ToJSONIndent()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(a.stdout, s)
				return err
			case "short":
				_, err := fmt.Fprintln(a.stdout, info.ShortString())
				return err
			case "text", "":
				_, err := fmt.Fprintln(a.stdout, info.Text())
				return err
			default:
				return fmt.Errorf("unknown output format %q (text, json, short)", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, short)")
	return cmd
}
