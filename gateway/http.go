package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meshkit-ai/meshkit/core"
	"github.com/meshkit-ai/meshkit/logging"
)

// HTTPGateway forwards chat requests to peer agents over HTTP. Endpoints
// come from a static registry of agent name to completion URL.
type HTTPGateway struct {
	client   *http.Client
	registry map[string]string
	logger   logging.Logger
}

// HTTPOptions configure an HTTPGateway.
type HTTPOptions struct {
	// Client is the HTTP client used for forwarding. A default client with
	// a 120s timeout is used when nil; per-call deadlines still come from
	// the caller's context.
	Client *http.Client
	Logger logging.Logger
}

// NewHTTPGateway constructs a gateway over a static agent endpoint registry.
func NewHTTPGateway(registry map[string]string, optFns ...func(o *HTTPOptions)) *HTTPGateway {
	opts := HTTPOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	reg := make(map[string]string, len(registry))
	for name, endpoint := range registry {
		reg[name] = endpoint
	}

	return &HTTPGateway{
		client:   client,
		registry: reg,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Resolve implements Gateway.
func (g *HTTPGateway) Resolve(agent string) (string, error) {
	endpoint, ok := g.registry[agent]
	if !ok {
		return "", &ErrUnknownAgent{Agent: agent}
	}
	return endpoint, nil
}

// Forward implements Gateway by POSTing the request as JSON.
func (g *HTTPGateway) Forward(ctx context.Context, endpoint string, req *core.ChatRequest) (*core.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	}

	g.logger.Debug("gateway.http.forward", "endpoint", endpoint)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer at %s returned status %d: %s", endpoint, resp.StatusCode, truncateBody(payload))
	}

	var chatResp core.ChatResponse
	if err := json.Unmarshal(payload, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response from %s: %w", endpoint, err)
	}

	return &chatResp, nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
