package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/worunner/worunner/pkg/config"
)

// VerifyProxy forwards proxy-eligible mutating calls to an external
// verifying proxy that performs the call and records the resulting
// mutation itself (proxy_mode=edge_proxy), suppressing the dispatcher's
// own in-process ledger write for that call.
type VerifyProxy struct {
	cfg    config.VerifyProxyConfig
	client *http.Client
}

// NewVerifyProxy builds a VerifyProxy from configuration. When cfg.Enabled
// is false, Eligible always reports false and Forward is never consulted.
func NewVerifyProxy(cfg config.VerifyProxyConfig) *VerifyProxy {
	return &VerifyProxy{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Eligible reports whether toolName should be routed through the proxy.
func (p *VerifyProxy) Eligible(toolName string) bool {
	if !p.cfg.Enabled {
		return false
	}
	for _, t := range p.cfg.EligibleTool {
		if t == toolName {
			return true
		}
	}
	return false
}

type proxyRequest struct {
	Tool        string                 `json:"tool"`
	Input       map[string]interface{} `json:"input"`
	Actor       string                 `json:"actor"`
	WorkOrderID string                 `json:"work_order_id"`
}

// Forward posts the call to the proxy. handled is false on any
// transport-level failure, signaling the dispatcher to fall back to
// in-process execution and recording.
func (p *VerifyProxy) Forward(ctx context.Context, toolName string, input map[string]interface{}, actor, woID string) (result ToolResult, handled bool) {
	body, err := json.Marshal(proxyRequest{Tool: toolName, Input: input, Actor: actor, WorkOrderID: woID})
	if err != nil {
		return ToolResult{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/verify-dispatch", bytes.NewReader(body))
	if err != nil {
		return ToolResult{}, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return ToolResult{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return ToolResult{}, false
	}

	var out ToolResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ToolResult{}, false
	}
	return out, true
}
