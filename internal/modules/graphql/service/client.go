package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"candle_dash/internal/modules/config"
)

// Client is the HTTP side of the internal GraphQL API. One instance is
// built at the composition root and shared; it only issues independent
// request calls, so no extra synchronization is needed.
type Client struct {
	http     *http.Client
	endpoint string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		http:     &http.Client{Timeout: 10 * time.Second},
		endpoint: cfg.API.URL + "/graphql",
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// Do posts one operation and decodes response.data into out.
// A non-2xx status or a non-empty errors array is a transport failure.
func (c *Client) Do(ctx context.Context, opName, query string, vars map[string]any, out any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "graphql."+opName)
	defer span.Finish()

	body, err := sonic.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "graphql %s", opName)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("graphql %s: status %s", opName, resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	var envelope gqlResponse
	if err := sonic.Unmarshal(raw, &envelope); err != nil {
		return errors.Wrap(err, "decode response")
	}
	if len(envelope.Errors) > 0 {
		return errors.Errorf("graphql %s: %s", opName, envelope.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(envelope.Data, out); err != nil {
		return errors.Wrap(err, "decode data")
	}
	return nil
}
