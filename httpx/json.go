package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
)

// DecodeJSON decodes the response body into dst.
func (r *Response) DecodeJSON(dst any) error {
	return decodeJSON(r, dst, false)
}

// DecodeJSONStrict is like DecodeJSON but rejects unknown fields.
// Use this when you want "contract" enforcement between client and server.
func (r *Response) DecodeJSONStrict(dst any) error {
	return decodeJSON(r, dst, true)
}

func decodeJSON(r *Response, dst any, strict bool) error {
	if r == nil {
		return errors.New("nil response")
	}
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there's no extra non-whitespace payload.
	var extra any
	if err := dec.Decode(&extra); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if extra != nil {
		return errors.New("unexpected extra JSON value in response body")
	}
	return nil
}

// ExecuteJSON executes r, treats non-2xx as error, and decodes the JSON body into T.
func ExecuteJSON[T any](ctx context.Context, c *Client, r *Request) (T, *Response, error) {
	var out T
	resp, err := c.Execute(ctx, r)
	if err != nil {
		return out, nil, err
	}
	if err := resp.Err(); err != nil {
		return out, resp, err
	}
	if err := resp.DecodeJSON(&out); err != nil {
		var zero T
		return zero, resp, err
	}
	return out, resp, nil
}
