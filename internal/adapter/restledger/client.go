// Package restledger implements adapter.Adapter for accounting back-ends that
// expose a plain JSON REST API: one collection per entity type, POST to
// create, PUT to overwrite, GET to read.
package restledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/Strob0t/syncbridge/internal/adapter/otel"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
	"github.com/Strob0t/syncbridge/internal/domain/system"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
)

// Vendor is the ExternalSystem.Type served by this package.
const Vendor = "rest"

// Recognized ExternalSystem.Config keys.
const (
	ConfigIDField    = "id_field"    // response field carrying the external id (default "id")
	ConfigHealthPath = "health_path" // GET target for TestConnection (default "/health")
	ConfigAuthScheme = "auth_scheme" // Authorization scheme (default "Bearer")
	ConfigPathPrefix = "path."       // path.<entity_type> overrides the collection path
)

const (
	maxResponseBytes = 4 << 20
	snippetRunes     = 200
)

// Client talks to one configured REST ledger.
type Client struct {
	baseURL    string
	credential string
	config     map[string]string
	httpClient *http.Client
}

var (
	_ adapter.Adapter           = (*Client)(nil)
	_ adapter.WebhookNormalizer = (*Client)(nil)
)

// NewClient creates a client for sys. A nil httpClient gets an instrumented
// default.
func NewClient(sys system.ExternalSystem, credential string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(sys.BaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("restledger: invalid base url %q", sys.BaseURL)
	}
	if httpClient == nil {
		httpClient = otel.HTTPClient(nil)
	}
	cfg := sys.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(sys.BaseURL, "/"),
		credential: credential,
		config:     cfg,
		httpClient: httpClient,
	}, nil
}

// Register adds the REST vendor to the catalog.
func Register(catalog *adapter.Catalog) {
	catalog.Register(Vendor, func(sys system.ExternalSystem, credential string) (adapter.Adapter, error) {
		return NewClient(sys, credential, nil)
	})
}

func (c *Client) cfg(key, def string) string {
	if v := c.config[key]; v != "" {
		return v
	}
	return def
}

func (c *Client) collection(entityType string) string {
	return c.baseURL + "/" + strings.Trim(c.cfg(ConfigPathPrefix+entityType, entityType+"s"), "/")
}

// Push creates the external record when req.ExternalID is empty, otherwise
// overwrites it. Creates carry an Idempotency-Key derived from the local
// entity so a retried create whose response was lost does not duplicate.
func (c *Client) Push(ctx context.Context, req adapter.PushRequest) (adapter.PushResult, error) {
	body, err := req.Data.Marshal()
	if err != nil {
		return adapter.PushResult{}, &adapter.Error{Kind: adapter.KindPermanent, Op: "push", Err: fmt.Errorf("encode: %w", err)}
	}

	if req.ExternalID != "" {
		target := c.collection(req.EntityType) + "/" + url.PathEscape(req.ExternalID)
		if _, err := c.do(ctx, "push", http.MethodPut, target, body, nil); err != nil {
			return adapter.PushResult{}, err
		}
		return adapter.PushResult{ExternalID: req.ExternalID}, nil
	}

	hdr := http.Header{}
	hdr.Set("Idempotency-Key", req.EntityType+":"+req.EntityID)
	resp, err := c.do(ctx, "push", http.MethodPost, c.collection(req.EntityType), body, hdr)
	if err != nil {
		return adapter.PushResult{}, err
	}
	var created map[string]any
	if err := json.Unmarshal(resp, &created); err != nil {
		return adapter.PushResult{}, &adapter.Error{Kind: adapter.KindTransient, Op: "push", Err: fmt.Errorf("parse response: %w", err)}
	}
	id := stringID(created[c.cfg(ConfigIDField, "id")])
	if id == "" {
		return adapter.PushResult{}, &adapter.Error{Kind: adapter.KindPermanent, Op: "push", Err: errors.New("response carries no external id")}
	}
	return adapter.PushResult{ExternalID: id}, nil
}

// Pull reads the external record.
func (c *Client) Pull(ctx context.Context, req adapter.PullRequest) (entity.Snapshot, error) {
	target := c.collection(req.EntityType) + "/" + url.PathEscape(req.ExternalID)
	resp, err := c.do(ctx, "pull", http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, err
	}
	snap, err := entity.UnmarshalSnapshot(resp)
	if err != nil {
		return nil, &adapter.Error{Kind: adapter.KindTransient, Op: "pull", Err: fmt.Errorf("parse response: %w", err)}
	}
	return snap, nil
}

// TestConnection probes the health endpoint with the configured credential.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.do(ctx, "test", http.MethodGet, c.baseURL+"/"+strings.TrimPrefix(c.cfg(ConfigHealthPath, "/health"), "/"), nil, nil)
	return err == nil
}

func (c *Client) do(ctx context.Context, op, method, target string, body []byte, hdr http.Header) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, &adapter.Error{Kind: adapter.KindPermanent, Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	for k, v := range hdr {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credential != "" {
		req.Header.Set("Authorization", c.cfg(ConfigAuthScheme, "Bearer")+" "+c.credential)
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL is built from the operator-configured base URL
	if err != nil {
		return nil, &adapter.Error{Kind: adapter.KindTransient, Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, &adapter.Error{Kind: adapter.KindTransient, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	oversized := len(respBody) > maxResponseBytes
	if oversized {
		respBody = respBody[:maxResponseBytes]
	}

	if resp.StatusCode >= 300 {
		return nil, &adapter.Error{
			Kind:       Classify(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s %s: %s", method, req.URL.Path, snippet(respBody)),
		}
	}
	// A retry would fetch the same oversized body.
	if oversized {
		return nil, &adapter.Error{
			Kind:       adapter.KindPermanent,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s %s: response exceeds %d bytes", method, req.URL.Path, maxResponseBytes),
		}
	}
	return respBody, nil
}

// Classify maps an HTTP status to a retry classification. Timeouts, rate
// limits and server errors are transient; other client errors are not.
func Classify(status int) adapter.Kind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return adapter.KindTransient
	case status >= 400:
		return adapter.KindPermanent
	default:
		return adapter.KindTransient
	}
}

// snippet shortens an error body to snippetRunes runes for error messages.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if utf8.RuneCountInString(s) <= snippetRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == snippetRunes {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// stringID renders JSON ids (strings or numbers) as strings.
func stringID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
