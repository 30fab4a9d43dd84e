package resource

import (
	"context"
	"errors"
	"maps"
	"net/url"
	"sort"
	"strings"

	"github.com/lgc202/stripe-go-kit/httpx"
	"github.com/lgc202/stripe-go-kit/telemetry"
)

type Customer struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"`
	Created     int64             `json:"created"`
	Livemode    bool              `json:"livemode"`
	Email       string            `json:"email"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`

	// original is the state last received from the API; Save diffs against it.
	original *Customer
}

// CustomerParams lists the fields to set. Nil fields are not sent.
// A metadata value of "" removes the key.
type CustomerParams struct {
	Email       *string
	Name        *string
	Description *string
	Metadata    map[string]string
}

// String returns a pointer to s, for use in params.
func String(s string) *string { return &s }

// Form encodes p as application/x-www-form-urlencoded values.
func (p *CustomerParams) Form() url.Values {
	v := make(url.Values)
	if p == nil {
		return v
	}
	if p.Email != nil {
		v.Set("email", *p.Email)
	}
	if p.Name != nil {
		v.Set("name", *p.Name)
	}
	if p.Description != nil {
		v.Set("description", *p.Description)
	}
	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Set("metadata["+k+"]", p.Metadata[k])
	}
	return v
}

// Changes reports the fields of c modified since it was last received.
// A customer that was never received reports every non-zero field.
func (c *Customer) Changes() *CustomerParams {
	base := c.original
	if base == nil {
		base = &Customer{}
	}
	p := &CustomerParams{}
	if c.Email != base.Email {
		p.Email = String(c.Email)
	}
	if c.Name != base.Name {
		p.Name = String(c.Name)
	}
	if c.Description != base.Description {
		p.Description = String(c.Description)
	}
	for k, v := range c.Metadata {
		if old, ok := base.Metadata[k]; !ok || old != v {
			if p.Metadata == nil {
				p.Metadata = make(map[string]string)
			}
			p.Metadata[k] = v
		}
	}
	for k := range base.Metadata {
		if _, ok := c.Metadata[k]; !ok {
			if p.Metadata == nil {
				p.Metadata = make(map[string]string)
			}
			p.Metadata[k] = ""
		}
	}
	return p
}

func (c *Customer) markClean() {
	snap := *c
	snap.Metadata = maps.Clone(c.Metadata)
	snap.original = nil
	c.original = &snap
}

type CustomerClient struct {
	B Backend
}

func NewCustomerClient(b Backend) *CustomerClient {
	return &CustomerClient{B: b}
}

func customerPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("resource: empty customer id")
	}
	return "/v1/customers/" + url.PathEscape(id), nil
}

// Retrieve fetches a customer (GET /v1/customers/{id}).
func (c *CustomerClient) Retrieve(ctx context.Context, id string) (*Customer, error) {
	path, err := customerPath(id)
	if err != nil {
		return nil, err
	}
	r, err := get(path)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, r)
}

// Create creates a customer (POST /v1/customers).
func (c *CustomerClient) Create(ctx context.Context, p *CustomerParams) (*Customer, error) {
	r, err := post("/v1/customers", httpx.WithForm(p.Form()))
	if err != nil {
		return nil, err
	}
	return c.do(ctx, r)
}

// Update sets the given fields on a customer (POST /v1/customers/{id}).
func (c *CustomerClient) Update(ctx context.Context, id string, p *CustomerParams) (*Customer, error) {
	path, err := customerPath(id)
	if err != nil {
		return nil, err
	}
	r, err := post(path, httpx.WithForm(p.Form()))
	if err != nil {
		return nil, err
	}
	return c.do(ctx, r)
}

// Save sends the fields of cus changed since it was retrieved and refreshes
// cus from the reply. The call is tagged with the "save" usage.
func (c *CustomerClient) Save(ctx context.Context, cus *Customer) error {
	if cus == nil {
		return errors.New("resource: nil customer")
	}
	path, err := customerPath(cus.ID)
	if err != nil {
		return err
	}
	r, err := post(path, httpx.WithForm(cus.Changes().Form()), httpx.WithUsage(telemetry.UsageSave))
	if err != nil {
		return err
	}
	out, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	*cus = *out
	return nil
}

func (c *CustomerClient) do(ctx context.Context, r *httpx.Request) (*Customer, error) {
	var out Customer
	if err := call(ctx, c.B, r, &out); err != nil {
		return nil, err
	}
	out.markClean()
	return &out, nil
}
