package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/eventstream"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a dwnd gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the gateway at baseURL. timeout bounds plain
// requests; Tail is bounded only by its context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// Emit publishes an event for tenant.
func (c *Client) Emit(ctx context.Context, tenant string, event contracts.MessageEvent, indexes contracts.KeyValues) error {
	body, err := json.Marshal(map[string]any{"event": event, "indexes": indexes})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint("v1", "events", tenant), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PutBlob uploads data.
func (c *Client) PutBlob(ctx context.Context, tenant, recordID, dataCID string, data io.Reader) (*contracts.PutResult, error) {
	resp, err := c.do(ctx, http.MethodPut, c.endpoint("v1", "blobs", tenant, recordID, dataCID), "application/octet-stream", data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res contracts.PutResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode put response: %w", err)
	}
	return &res, nil
}

// GetBlob copies the blob to w and returns the number of bytes written.
func (c *Client) GetBlob(ctx context.Context, tenant, recordID, dataCID string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("v1", "blobs", tenant, recordID, dataCID), "", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// DeleteBlob removes a blob. Removing an absent blob succeeds.
func (c *Client) DeleteBlob(ctx context.Context, tenant, recordID, dataCID string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.endpoint("v1", "blobs", tenant, recordID, dataCID), "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ClearBlobs removes every blob.
func (c *Client) ClearBlobs(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, c.endpoint("v1", "blobs"), "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Tail subscribes to tenant's events under id and calls fn for each one until
// ctx is cancelled, the server closes the socket or fn returns an error.
// An empty id lets the gateway pick one.
func (c *Client) Tail(ctx context.Context, tenant, id string, fn func(eventstream.Envelope) error) error {
	wsURL := c.endpoint("v1", "events", tenant, "ws")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	if id != "" {
		wsURL += "?id=" + url.QueryEscape(id)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return readAPIError(resp)
		}
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		env, err := eventstream.Decode(data)
		if err != nil {
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
