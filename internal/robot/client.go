package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"ot2-calibration/pkg/api"
)

const (
	DefaultPort       = 31950
	DefaultApiVersion = "2"
	versionHeader     = "opentrons-version"
	maxDetailBytes    = 200
)

type ClientConfig struct {
	Port       int
	ApiVersion string
	Timeout    time.Duration
}

// Client talks to the robot-server HTTP API.
type Client struct {
	client *resty.Client
	host   string
	base   string
}

func NewClient(host string, cfg ClientConfig) *Client {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ApiVersion == "" {
		cfg.ApiVersion = DefaultApiVersion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}

	base := fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
	return &Client{
		client: resty.New().
			SetBaseURL(base).
			SetHeader(versionHeader, cfg.ApiVersion).
			SetHeader("Accept", "application/json").
			SetTimeout(cfg.Timeout),
		host: host,
		base: base,
	}
}

func (c *Client) Host() string { return c.host }

func (c *Client) URL(path string) string { return c.base + path }

// StatusError is a non-2xx answer from the robot.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > maxDetailBytes {
		body = body[:maxDetailBytes]
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, body)
}

// GetJSON fetches path and returns the raw response body.
func (c *Client) GetJSON(ctx context.Context, path string) (json.RawMessage, error) {
	res, err := c.client.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", c.URL(path), err)
	}

	if !res.IsSuccess() {
		return nil, &StatusError{Path: path, StatusCode: res.StatusCode(), Body: res.String()}
	}

	body := res.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("GET %s: response is not valid JSON", c.URL(path))
	}
	return body, nil
}

func (c *Client) getInto(ctx context.Context, path string, v any) error {
	body, err := c.GetJSON(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("error parsing response from %s: %w", c.URL(path), err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (api.Health, error) {
	var health api.Health
	if err := c.getInto(ctx, "/health", &health); err != nil {
		return api.Health{}, err
	}
	return health, nil
}

func (c *Client) Instruments(ctx context.Context) ([]api.Instrument, error) {
	var res api.InstrumentsResponse
	if err := c.getInto(ctx, "/instruments", &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}
