// Package device talks to the IoT cloud that backs the room displays. Each
// room is a "thing" whose properties mirror the fields of a RoomStatus.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/roomd/internal/config"
)

// Thing is a device registered in the IoT cloud.
type Thing struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Property is one variable of a thing.
type Property struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LastValue any    `json:"last_value"`
}

// Value renders the last reported value as a string; null becomes "".
func (p Property) Value() string {
	switch v := p.LastValue.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(v)
	}
}

// APIError is a non-2xx response from the IoT API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status code %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client is a rate limited IoT cloud v2 API client authenticated with
// OAuth2 client credentials.
type Client struct {
	host       string
	orgID      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client from the device settings. Tokens are fetched
// lazily and refreshed by the oauth2 transport.
func NewClient(ctx context.Context, cfg config.DeviceConfig) *Client {
	host := strings.TrimSuffix(cfg.Host, "/")

	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cc := &clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       cfg.TokenURL,
		EndpointParams: url.Values{"audience": {host}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}

	base := &http.Client{Timeout: timeout}
	httpClient := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	httpClient.Timeout = timeout

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}

	return &Client{
		host:       host,
		orgID:      cfg.OrganizationID,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.orgID != "" {
		req.Header.Set("X-Organization", c.orgID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// ListThings returns every thing visible to the credentials.
func (c *Client) ListThings(ctx context.Context) ([]Thing, error) {
	var things []Thing
	if err := c.request(ctx, http.MethodGet, "/v2/things", nil, &things); err != nil {
		return nil, err
	}
	return things, nil
}

// ListProperties returns the properties of a thing.
func (c *Client) ListProperties(ctx context.Context, thingID string) ([]Property, error) {
	var props []Property
	path := "/v2/things/" + url.PathEscape(thingID) + "/properties"
	if err := c.request(ctx, http.MethodGet, path, nil, &props); err != nil {
		return nil, err
	}
	return props, nil
}

// PublishProperty sets a property's value.
func (c *Client) PublishProperty(ctx context.Context, thingID, propertyID string, value any) error {
	path := "/v2/things/" + url.PathEscape(thingID) + "/properties/" + url.PathEscape(propertyID) + "/publish"
	return c.request(ctx, http.MethodPut, path, map[string]any{"value": value}, nil)
}
