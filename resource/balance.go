package resource

import (
	"context"
)

// Amount is a sum of money in the smallest currency unit.
type Amount struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Balance struct {
	Object    string   `json:"object"`
	Livemode  bool     `json:"livemode"`
	Available []Amount `json:"available"`
	Pending   []Amount `json:"pending"`
}

type BalanceClient struct {
	B Backend
}

func NewBalanceClient(b Backend) *BalanceClient {
	return &BalanceClient{B: b}
}

// Retrieve fetches the account balance (GET /v1/balance).
func (c *BalanceClient) Retrieve(ctx context.Context) (*Balance, error) {
	r, err := get("/v1/balance")
	if err != nil {
		return nil, err
	}
	var out Balance
	if err := call(ctx, c.B, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
