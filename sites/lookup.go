// Package sites exposes the external site-registry collaborator at its
// interface: resolving a site reference to its detail record.
package sites

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gridlens/fieldcall/shared"
	"github.com/valyala/fasthttp"
)

// Detail is the reference dataset for one grid site.
type Detail struct {
	Reference string  `json:"reference"`
	Name      string  `json:"name"`
	Operator  string  `json:"operator"`
	Status    string  `json:"status"`
	Region    string  `json:"region"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Lookup resolves a site reference. A nil Detail with nil error means "no
// detail available yet": not found and transient misses are not errors to
// the voice controller.
type Lookup interface {
	DetailByReference(ctx context.Context, reference string) (*Detail, error)
}

// Client fetches details from the site registry REST service.
type Client struct {
	logger  shared.LoggerAdapter
	baseURL *url.URL
	timeout time.Duration
}

var _ Lookup = (*Client)(nil)

func NewClient(logger shared.LoggerAdapter, baseURL string) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return &Client{
		logger:  logger,
		baseURL: base,
		timeout: 10 * time.Second,
	}, nil
}

func (c *Client) DetailByReference(ctx context.Context, reference string) (*Detail, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL.JoinPath("sites", reference).String())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	errC := make(chan error, 1)
	go func() {
		errC <- fasthttp.DoTimeout(req, resp, c.timeout)
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errC:
		if err != nil {
			return nil, fmt.Errorf("performing HTTP request: %w", err)
		}
	}
	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}
	detail := new(Detail)
	if err := sonic.Unmarshal(resp.Body(), detail); err != nil {
		return nil, fmt.Errorf("unmarshaling site detail: %w", err)
	}
	return detail, nil
}

// Static is a fixed in-memory lookup, used by tests and offline demos.
type Static map[string]*Detail

var _ Lookup = (Static)(nil)

func (s Static) DetailByReference(_ context.Context, reference string) (*Detail, error) {
	return s[reference], nil
}
