package main

import (
	"github.com/spf13/cobra"

	"github.com/lgc202/stripe-go-kit/resource"
)

func (a *App) newBalanceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the account balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.apiClient()
			if err != nil {
				return err
			}
			bal, err := resource.NewBalanceClient(c).Retrieve(a.callContext(cmd))
			if err != nil {
				return err
			}
			if a.useJSON() {
				return a.printJSON(bal)
			}

			t := newTable()
			t.AddRow("STATUS", "CURRENCY", "AMOUNT")
			for _, m := range bal.Available {
				t.AddRow("available", m.Currency, m.Amount)
			}
			for _, m := range bal.Pending {
				t.AddRow("pending", m.Currency, m.Amount)
			}
			return a.printTable(t)
		},
	}
}
