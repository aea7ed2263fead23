package kds

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kdsbridge/print-bridge/pkg/config"
)

const (
	RegisterRoute = "/api/kds/register"
	OrderRoute    = "/api/kds/order"

	RequestIDHeader = "X-Request-Id"
)

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 512

// Registration is the backend's answer to a successful registration.
// Printers is never nil.
type Registration struct {
	PairingCode string
	Printers    []config.Printer
}

// Order is one complete print job received on a station port.
type Order struct {
	Station  string `json:"station"`
	DeviceID string `json:"deviceId"`
	Content  string `json:"content"`
}

type registerRequest struct {
	DeviceID string `json:"deviceId"`
	IP       string `json:"ip"`
}

// Client talks to the KDS backend HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type ClientOption func(*Client)

// WithTLSConfig makes the client use tlsConfig for HTTPS backends. A nil
// config keeps the default transport.
func WithTLSConfig(tlsConfig *tls.Config) ClientOption {
	return func(c *Client) {
		if tlsConfig == nil {
			return
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		c.httpClient.Transport = transport
	}
}

func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register announces the device to the backend and returns its pairing code
// and initial station list.
func (c *Client) Register(ctx context.Context, deviceID, ip string) (Registration, error) {
	resp, err := c.postJSON(ctx, RegisterRoute, registerRequest{DeviceID: deviceID, IP: ip}, nil)
	if err != nil {
		return Registration{}, err
	}
	defer resp.Body.Close()

	if err := checkStatus(RegisterRoute, resp); err != nil {
		return Registration{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Registration{}, fmt.Errorf("failed to read registration response: %w", err)
	}
	return decodeRegistration(body)
}

// SubmitOrder posts one order. The response body is not interpreted.
func (c *Client) SubmitOrder(ctx context.Context, order Order) (string, error) {
	requestID := uuid.NewString()
	resp, err := c.postJSON(ctx, OrderRoute, order, map[string]string{RequestIDHeader: requestID})
	if err != nil {
		return requestID, err
	}
	defer resp.Body.Close()

	if err := checkStatus(OrderRoute, resp); err != nil {
		return requestID, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return requestID, nil
}

func (c *Client) postJSON(ctx context.Context, route string, payload any, headers map[string]string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", route, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", route, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", route, err)
	}
	return resp, nil
}

func checkStatus(route string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &BackendError{
		Endpoint:   route,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func decodeRegistration(body []byte) (Registration, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Registration{}, &MalformedResponseError{Reason: "body is not a JSON object", Err: err}
	}

	rawCode, ok := fields["pairingCode"]
	if !ok {
		return Registration{}, &MalformedResponseError{Reason: "missing pairingCode"}
	}
	var code string
	if err := json.Unmarshal(rawCode, &code); err != nil || isNull(rawCode) {
		return Registration{}, &MalformedResponseError{Reason: "pairingCode is not a string", Err: err}
	}

	rawPrinters, ok := fields["printers"]
	if !ok {
		return Registration{}, &MalformedResponseError{Reason: "missing printers"}
	}
	if isNull(rawPrinters) {
		return Registration{}, &MalformedResponseError{Reason: "printers is null"}
	}
	printers := []config.Printer{}
	if err := json.Unmarshal(rawPrinters, &printers); err != nil {
		return Registration{}, &MalformedResponseError{Reason: "printers is not a list of {name, port}", Err: err}
	}

	return Registration{PairingCode: code, Printers: printers}, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
