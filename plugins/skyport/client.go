package skyport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/oauth2"

	"github.com/joshp123/gohome-skyport/internal/core"
	"github.com/joshp123/gohome-skyport/internal/rate"
)

const requestTimeout = 15 * time.Second

// TokenSource is the auth manager as seen by the client.
type TokenSource interface {
	oauth2.TokenSource
	Invalidate()
}

// APIError is a non-2xx answer from the Skyport API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("skyport %s %s: %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *APIError) Is(target error) bool {
	return target == core.ErrUnavailable
}

type ClientOptions struct {
	BaseURL    string
	Tokens     TokenSource
	RateLimits rate.Declaration
	CacheTTL   time.Duration
	Log        logr.Logger
}

// Client talks to the Skyport REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	cacheTTL   time.Duration
	log        logr.Logger
	now        func() time.Time

	mu        sync.Mutex
	devices   []Device
	devicesAt time.Time
	data      map[string]cachedData
}

type cachedData struct {
	data DeviceData
	at   time.Time
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	authed := &http.Client{
		Timeout:   requestTimeout,
		Transport: &oauth2.Transport{Source: opts.Tokens, Base: http.DefaultTransport},
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     opts.Tokens,
		httpClient: rate.WrapHTTP(opts.RateLimits, authed),
		cacheTTL:   opts.CacheTTL,
		log:        opts.Log,
		now:        time.Now,
		data:       make(map[string]cachedData),
	}, nil
}

// Devices lists the thermostats on the account.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	c.mu.Lock()
	if c.fresh(c.devicesAt) && c.devices != nil {
		out := append([]Device(nil), c.devices...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	var devices []Device
	if err := c.do(ctx, http.MethodGet, "/devices", nil, &devices); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.devices = devices
	c.devicesAt = c.now()
	c.mu.Unlock()
	return append([]Device(nil), devices...), nil
}

// DeviceData returns the deviceData document for one thermostat.
func (c *Client) DeviceData(ctx context.Context, deviceID string) (DeviceData, error) {
	c.mu.Lock()
	if entry, ok := c.data[deviceID]; ok && c.fresh(entry.at) {
		c.mu.Unlock()
		return cloneData(entry.data), nil
	}
	c.mu.Unlock()
	return c.fetchData(ctx, deviceID, nil)
}

// StoredData reads deviceData straight from the API, skipping every cache.
// Writes that copy stored values must not act on a stale read.
func (c *Client) StoredData(ctx context.Context, deviceID string) (DeviceData, error) {
	return c.fetchData(ctx, deviceID, http.Header{"Cache-Control": {"no-cache"}})
}

func (c *Client) fetchData(ctx context.Context, deviceID string, header http.Header) (DeviceData, error) {
	var data DeviceData
	if err := c.doWith(ctx, http.MethodGet, "/deviceData/"+deviceID, header, nil, &data); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.data[deviceID] = cachedData{data: data, at: c.now()}
	c.mu.Unlock()
	return cloneData(data), nil
}

// Thermostats returns every device with its current data.
func (c *Client) Thermostats(ctx context.Context) ([]Thermostat, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Thermostat, 0, len(devices))
	for _, device := range devices {
		data, err := c.DeviceData(ctx, device.ID)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", device.ID, err)
		}
		out = append(out, Thermostat{Device: device, Data: data})
	}
	return out, nil
}

// Update writes a partial deviceData body.
func (c *Client) Update(ctx context.Context, deviceID string, body map[string]any) error {
	if err := c.do(ctx, http.MethodPut, "/deviceData/"+deviceID, body, nil); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.data, deviceID)
	c.mu.Unlock()
	return nil
}

func (c *Client) fresh(at time.Time) bool {
	return c.cacheTTL > 0 && !at.IsZero() && c.now().Sub(at) < c.cacheTTL
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	return c.doWith(ctx, method, path, nil, body, out)
}

func (c *Client) doWith(ctx context.Context, method, path string, header http.Header, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
	}

	status, data, err := c.send(ctx, method, path, header, payload)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		c.log.V(1).Info("access token rejected, refreshing", "method", method, "path", path)
		c.tokens.Invalidate()
		status, data, err = c.send(ctx, method, path, header, payload)
		if err != nil {
			return err
		}
	}
	if status < 200 || status >= 300 {
		return &APIError{Method: method, Path: path, Status: status, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, header http.Header, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	for key, values := range header {
		req.Header[key] = values
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var limited rate.RateLimitError
		if errors.As(err, &limited) {
			return 0, nil, limited
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("skyport %s %s: %w: %v", method, path, core.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return resp.StatusCode, data, nil
}

func cloneData(in DeviceData) DeviceData {
	out := make(DeviceData, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
