package outbox

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
	"time"

	"github.com/cenkalti/backoff/v4"
)

const schemaRegistryContentType = "application/vnd.schemaregistry.v1+json"

// ErrSubjectNotFound is returned when the registry has no versions for a subject.
var ErrSubjectNotFound = errors.New("schema subject not found")

// SchemaRegistryClient registers JSON schemas with a Confluent-compatible registry.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// NewSchemaRegistryClient constructs a client with a 10s request timeout.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
	}
}

type registrySchema struct {
	ID     int    `json:"id"`
	Schema string `json:"schema,omitempty"`
}

// EnsureSchema returns the ID of schema under subject. The latest version is
// reused when its text matches; otherwise schema is registered as a new version.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	latest, err := c.fetchLatest(ctx, subject)
	switch {
	case err == nil && sameSchema(latest.Schema, schema):
		return latest.ID, nil
	case err != nil && !errors.Is(err, ErrSubjectNotFound):
		return 0, err
	}
	return c.register(ctx, subject, schema)
}

func (c *SchemaRegistryClient) fetchLatest(ctx context.Context, subject string) (registrySchema, error) {
	var out registrySchema
	err := c.do(ctx, http.MethodGet, c.subjectURL(subject, "versions/latest"), nil, &out)
	return out, err
}

func (c *SchemaRegistryClient) register(ctx context.Context, subject string, schema string) (int, error) {
	body, err := json.Marshal(map[string]any{
		"schemaType": "JSON",
		"schema":     schema,
	})
	if err != nil {
		return 0, err
	}
	var out registrySchema
	if err := c.do(ctx, http.MethodPost, c.subjectURL(subject, "versions"), body, &out); err != nil {
		return 0, fmt.Errorf("register %s: %w", subject, err)
	}
	return out.ID, nil
}

func (c *SchemaRegistryClient) subjectURL(subject, suffix string) string {
	return fmt.Sprintf("%s/subjects/%s/%s", c.baseURL, url.PathEscape(subject), suffix)
}

// do sends one registry request, retrying network failures and 5xx responses.
func (c *SchemaRegistryClient) do(ctx context.Context, method, target string, body []byte, dst interface{}) error {
	op := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", schemaRegistryContentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(ErrSubjectNotFound)
		case resp.StatusCode >= 500:
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("schema registry %d: %s", resp.StatusCode, data)
		case resp.StatusCode >= 300:
			data, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("schema registry %d: %s", resp.StatusCode, data))
		}
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return backoff.Permanent(fmt.Errorf("decode registry response: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
}

// sameSchema compares two JSON schema documents ignoring insignificant whitespace.
func sameSchema(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	var ca, cb bytes.Buffer
	if json.Compact(&ca, []byte(a)) != nil || json.Compact(&cb, []byte(b)) != nil {
		return a == b
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
