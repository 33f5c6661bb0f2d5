package envapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client queries a remote environment API. It satisfies the evaluator's
// memory and environment interfaces, so a runner on another machine can
// assert against the shared world state.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the environment API at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Query reads one value from the given channel and path.
func (c *Client) Query(channel, path string) (interface{}, error) {
	var url string
	switch channel {
	case "env":
		url = fmt.Sprintf("%s/api/env/%s", c.baseURL, strings.ReplaceAll(path, ".", "/"))
	default:
		url = fmt.Sprintf("%s/api/memory/%s", c.baseURL, path)
	}

	resp, err := c.http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("environment API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("environment API returned %s for %s", resp.Status, path)
	}

	var body struct {
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid environment API response: %w", err)
	}
	return body.Value, nil
}

// GetMemory reads a memory entry, returning def when it is missing.
func (c *Client) GetMemory(key string, def interface{}) interface{} {
	value, err := c.Query("memory", key)
	if err != nil || value == nil {
		return def
	}
	return value
}
