// Package resource implements a small set of API resources on top of
// httpx.Client: it turns resource operations into httpx.Requests, sends
// them through a Backend and decodes the JSON replies.
//
// Only the operations needed by the CLI are provided:
//
//	bc := resource.NewBalanceClient(client)
//	bal, err := bc.Retrieve(ctx)
//
//	cc := resource.NewCustomerClient(client)
//	cus, err := cc.Retrieve(ctx, "cus_123")
//	cus.Email = "new@example.com"
//	err = cc.Save(ctx, cus) // sends only the changed fields
//
// Client telemetry is only exchanged for contexts that carry a
// telemetry.Key (see telemetry.WithKey).
package resource
