// Package property looks up property ownership in the listings API.
package property

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hostchat/internal/domain"
)

const maxBodySize = 1 << 20

// Client verifies that a host owns a property. It satisfies service.HostVerifier.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With("component", "property_client"),
	}
}

// VerifyHost returns a validation error when the property is unknown, has no
// host, or belongs to someone else. Transport and upstream failures are
// returned as plain errors.
func (c *Client) VerifyHost(ctx context.Context, propertyID, hostID string) error {
	endpoint := c.baseURL + "/properties/" + url.PathEscape(propertyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build property request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch property %s: %w", propertyID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Validation("Property not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("property lookup failed", "property_id", propertyID, "status", resp.StatusCode)
		return fmt.Errorf("fetch property %s: unexpected status %d", propertyID, resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return fmt.Errorf("decode property %s: %w", propertyID, err)
	}

	owner := hostOf(body)
	if owner == "" {
		c.log.Warn("property has no host field", "property_id", propertyID)
		return domain.Validation("Property has no associated host")
	}
	if owner != hostID {
		return domain.Validation("Host ID does not match property owner")
	}
	return nil
}

// hostOf finds the owner id under data, property, or the top level.
func hostOf(body map[string]any) string {
	prop := body
	for _, key := range []string{"data", "property"} {
		if nested, ok := body[key].(map[string]any); ok {
			prop = nested
			break
		}
	}
	switch host := prop["host"].(type) {
	case map[string]any:
		if id := idString(host["_id"]); id != "" {
			return id
		}
		return idString(host["id"])
	case string:
		return host
	}
	return idString(prop["hostId"])
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	}
	return ""
}
