package pool

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
)

const maxResponseSize = 10 << 20

// Transport is one connection slot's way of reaching a capability server.
type Transport interface {
	// Call performs one request. It does not retry.
	Call(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error)
	// Probe checks that the server answers.
	Probe(ctx context.Context) error
	Close() error
}

// HTTPTransport speaks plain JSON over HTTP.
type HTTPTransport struct {
	baseURL        string
	healthEndpoint string
	client         *http.Client
}

func NewHTTPTransport(baseURL, healthEndpoint string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL:        strings.TrimRight(baseURL, "/"),
		healthEndpoint: healthEndpoint,
		client:         &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Call(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	if method == "" {
		method = http.MethodPost
	}
	method = strings.ToUpper(method)
	target := t.baseURL + "/" + strings.TrimLeft(endpoint, "/")

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if payload != nil {
			q, err := queryValues(payload)
			if err != nil {
				return nil, Permanent(err)
			}
			if len(q) > 0 {
				target += "?" + q.Encode()
			}
		}
	default:
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, Permanent(fmt.Errorf("encode payload: %w", err))
			}
			body = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, Permanent(fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return asJSON(data)
}

func (t *HTTPTransport) Probe(ctx context.Context) error {
	_, err := t.Call(ctx, http.MethodGet, t.healthEndpoint, nil)
	return err
}

func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func queryValues(payload any) (url.Values, error) {
	var m map[string]any
	switch p := payload.(type) {
	case map[string]any:
		m = p
	case map[string]string:
		q := url.Values{}
		for k, v := range p {
			q.Set(k, v)
		}
		return q, nil
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode query: %w", err)
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("query payload must be an object: %w", err)
		}
	}
	q := url.Values{}
	for k, v := range m {
		q.Set(k, fmt.Sprint(v))
	}
	return q, nil
}

// asJSON returns data unchanged when it is valid JSON, otherwise as a JSON
// string. An empty body becomes null.
func asJSON(data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return json.RawMessage("null"), nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed), nil
	}
	out, err := json.Marshal(string(data))
	if err != nil {
		return nil, err
	}
	return out, nil
}
