package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lgc202/stripe-go-kit/httpx"
)

// Backend sends one logical call. *httpx.Client implements it.
type Backend interface {
	Execute(ctx context.Context, r *httpx.Request) (*httpx.Response, error)
}

// APIError is the error object returned by the API for non-2xx responses.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`

	HTTP *httpx.Error `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" && e.HTTP != nil {
		return e.HTTP.Error()
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.HTTP != nil {
		return fmt.Sprintf("%s (status %d, request_id=%s)", msg, e.HTTP.StatusCode, e.HTTP.RequestID)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	if e == nil || e.HTTP == nil {
		return nil
	}
	return e.HTTP
}

// AsAPIError extracts *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// call sends r and decodes a 2xx JSON body into dst.
func call(ctx context.Context, b Backend, r *httpx.Request, dst any) error {
	if b == nil {
		return errors.New("resource: nil backend")
	}
	resp, err := b.Execute(ctx, r)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return apiError(resp, err)
	}
	if dst == nil {
		return nil
	}
	if err := resp.DecodeJSON(dst); err != nil {
		return fmt.Errorf("resource: decode %s %s: %w", r.Method, r.Path, err)
	}
	return nil
}

func apiError(resp *httpx.Response, err error) error {
	he, ok := httpx.AsError(err)
	if !ok {
		return err
	}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if json.Unmarshal(resp.Body, &envelope) != nil || envelope.Error == nil {
		return err
	}
	envelope.Error.HTTP = he
	return envelope.Error
}

func get(path string, opts ...httpx.RequestOption) (*httpx.Request, error) {
	return httpx.NewRequest(http.MethodGet, path, opts...)
}

func post(path string, opts ...httpx.RequestOption) (*httpx.Request, error) {
	return httpx.NewRequest(http.MethodPost, path, opts...)
}
