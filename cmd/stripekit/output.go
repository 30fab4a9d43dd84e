package main

import (
	"encoding/json"
	"fmt"

	"github.com/gosuri/uitable"
)

// useJSON reports whether results should be printed as JSON: when asked for,
// or when stdout is not a terminal.
func (a *App) useJSON() bool {
	return a.jsonOutput || !a.isTerminal(a.stdout)
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = 80
	t.Separator = "  "
	return t
}

func (a *App) printTable(t *uitable.Table) error {
	_, err := fmt.Fprintln(a.stdout, t.String())
	return err
}
