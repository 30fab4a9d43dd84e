package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/lgc202/stripe-go-kit/resource"
)

func (a *App) newCustomerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Read and update customers",
	}
	cmd.AddCommand(a.newCustomerGetCommand())
	cmd.AddCommand(a.newCustomerUpdateCommand())
	return cmd
}

func (a *App) newCustomerGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.apiClient()
			if err != nil {
				return err
			}
			cus, err := resource.NewCustomerClient(c).Retrieve(a.callContext(cmd), args[0])
			if err != nil {
				return err
			}
			return a.printCustomer(cus)
		},
	}
}

func (a *App) newCustomerUpdateCommand() *cobra.Command {
	var (
		email, name, description string
		metadata                 map[string]string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a customer",
		Long: `Retrieve a customer, apply the given fields and save it.
Only the fields that differ from the stored customer are sent.
Use --metadata key= to remove a metadata key.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.apiClient()
			if err != nil {
				return err
			}
			cc := resource.NewCustomerClient(c)
			cus, err := cc.Retrieve(a.callContext(cmd), args[0])
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("email") {
				cus.Email = email
			}
			if flags.Changed("name") {
				cus.Name = name
			}
			if flags.Changed("description") {
				cus.Description = description
			}
			for k, v := range metadata {
				if cus.Metadata == nil {
					cus.Metadata = make(map[string]string)
				}
				if v == "" {
					delete(cus.Metadata, k)
				} else {
					cus.Metadata[k] = v
				}
			}

			if err := cc.Save(a.callContext(cmd), cus); err != nil {
				return err
			}
			return a.printCustomer(cus)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "customer email")
	cmd.Flags().StringVar(&name, "name", "", "customer name")
	cmd.Flags().StringVar(&description, "description", "", "customer description")
	cmd.Flags().StringToStringVar(&metadata, "metadata", nil, "metadata key=value pairs")
	return cmd
}

func (a *App) printCustomer(cus *resource.Customer) error {
	if a.useJSON() {
		return a.printJSON(cus)
	}
	t := newTable()
	t.RightAlign(0)
	t.AddRow("id:", cus.ID)
	t.AddRow("email:", cus.Email)
	t.AddRow("name:", cus.Name)
	if cus.Description != "" {
		t.AddRow("description:", cus.Description)
	}
	keys := make([]string, 0, len(cus.Metadata))
	for k := range cus.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.AddRow("metadata."+k+":", cus.Metadata[k])
	}
	return a.printTable(t)
}
