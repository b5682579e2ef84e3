package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"soilguard/internal/config"
	"soilguard/internal/model"
	"soilguard/internal/normalize"
)

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s: status %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("backend %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client talks to the soil-monitoring backend with a bearer token.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	loc     *time.Location
}

func New(cfg config.BackendConfig, loc *time.Location) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("backend base_url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		loc:     loc,
	}, nil
}

func (c *Client) ListSensors(ctx context.Context) ([]model.Sensor, error) {
	objs, err := c.getObjects(ctx, "/sensors")
	if err != nil {
		return nil, err
	}
	out := make([]model.Sensor, 0, len(objs))
	for i, obj := range objs {
		s, err := normalize.Sensor(obj)
		if err != nil {
			return nil, fmt.Errorf("sensor %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// SensorData returns the stored readings of one sensor.
func (c *Client) SensorData(ctx context.Context, sensorID int64) ([]model.Reading, error) {
	objs, err := c.getObjects(ctx, "/sensors/"+strconv.FormatInt(sensorID, 10)+"/data")
	if err != nil {
		return nil, err
	}
	return normalize.Readings(objs, sensorID, c.loc)
}

func (c *Client) SensorAlerts(ctx context.Context, sensorID int64) ([]model.Alert, error) {
	objs, err := c.getObjects(ctx, "/sensor/"+strconv.FormatInt(sensorID, 10)+"/alerts")
	if err != nil {
		return nil, err
	}
	out := make([]model.Alert, 0, len(objs))
	for i, obj := range objs {
		a, err := normalize.Alert(obj, sensorID, c.loc)
		if err != nil {
			return nil, fmt.Errorf("alert %d of sensor %d: %w", i, sensorID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) DeleteAlert(ctx context.Context, alertID int64) error {
	_, err := c.do(ctx, http.MethodDelete, "/alert/"+strconv.FormatInt(alertID, 10))
	return err
}

func (c *Client) getObjects(ctx context.Context, path string) ([]map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return []map[string]any{}, nil
	}
	objs, err := normalize.Objects(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return objs, nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Path: path, Body: excerpt(body, maxExcerpt)}
	}
	return body, nil
}

const maxExcerpt = 256

// excerpt trims body to at most limit bytes without splitting a rune.
func excerpt(body []byte, limit int) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
