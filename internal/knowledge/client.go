// Package knowledge defines the narrow client contract the VM uses for
// knowledge-base lookups. The VM never sees HTTP, model selection, or
// credentials; it only calls Query.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrTimeout marks a query that ran out of time. The VM maps it to a
// CollaboratorTimeout fault.
var ErrTimeout = fmt.Errorf("knowledge query timed out")

// Result is the answer to one query.
type Result struct {
	Summary       string   `json:"summary"`
	RelatedTopics []string `json:"related_topics"`
}

// Client is the capability object injected into the VM.
type Client interface {
	Query(ctx context.Context, text string) (*Result, error)
}

// HTTPClient talks to a knowledge service over JSON/HTTP.
type HTTPClient struct {
	base   string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPClient builds a client for the service at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid knowledge service URL %q", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		base:   baseURL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type queryRequest struct {
	Text string `json:"text"`
}

// Query POSTs the text to <base>/v1/query and decodes the result.
// Context deadlines and client timeouts both surface as ErrTimeout.
func (c *HTTPClient) Query(ctx context.Context, text string) (*Result, error) {
	body, err := json.Marshal(queryRequest{Text: text})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "encode knowledge query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "build knowledge request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		if ue, ok := err.(*url.Error); ok && ue.Timeout() {
			return nil, ErrTimeout
		}
		return nil, pkgerrors.Wrap(err, "knowledge query failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("knowledge service rejected query",
			zap.Int("status", resp.StatusCode),
			zap.String("text", text))
		return nil, pkgerrors.Errorf("knowledge service returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, pkgerrors.Wrap(err, "decode knowledge result")
	}
	c.logger.Debug("knowledge query served",
		zap.String("text", text),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("related", len(result.RelatedTopics)))
	return &result, nil
}

// Static answers queries from a fixed table, for tests and offline use.
type Static map[string]*Result

func (s Static) Query(_ context.Context, text string) (*Result, error) {
	if r, ok := s[text]; ok {
		return r, nil
	}
	return &Result{Summary: "no results for " + text}, nil
}
