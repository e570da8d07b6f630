package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/wagate/internal/config"
)

// gatewayClient talks to a running gateway using the configured address and token.
type gatewayClient struct {
	base  url.URL
	token string
	http  *http.Client
}

func newGatewayClient() (*gatewayClient, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	host := cfg.Gateway.Host
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}

	return &gatewayClient{
		base:  url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", host, cfg.Gateway.Port)},
		token: cfg.Gateway.Token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// call performs a request and decodes the JSON reply into out. Non-2xx
// replies are returned as errors carrying the gateway's message.
func (c *gatewayClient) call(method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	u := c.base
	u.Path = path
	req, err := http.NewRequest(method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to gateway at %s: %w", c.base.Host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Message != "" {
			if e.Error != "" {
				return fmt.Errorf("%s (%d): %s", e.Message, resp.StatusCode, e.Error)
			}
			return fmt.Errorf("%s (%d)", e.Message, resp.StatusCode)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// dialEvents opens the /events websocket.
func (c *gatewayClient) dialEvents() (*websocket.Conn, error) {
	u := c.base
	u.Scheme = "ws"
	u.Path = "/events"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to %s: %w (status %d)", u.String(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("connect to %s: %w", u.String(), err)
	}
	return conn, nil
}
