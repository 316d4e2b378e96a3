// Package handlers implements the concrete tool handlers dispatched by
// pkg/tools.Dispatcher: the Git Data API pipeline, the sandbox executor, the
// edge-function deploy client, the state-machine-backed mark_*/transition
// tools, and the read-only knowledge/query surface.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/worunner/worunner/pkg/config"
)

// apiClient is a small wrapper shared by the GitHub, sandbox, and deploy
// clients: a bearer-token-authenticated JSON HTTP client with a fixed base
// URL and timeout.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, tokenEnv string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   os.Getenv(tokenEnv),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) (status int, err error) {
	var reader io.Reader
	if body != nil {
		b, merr := json.Marshal(body)
		if merr != nil {
			return 0, fmt.Errorf("marshal request: %w", merr)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode/100 == 2 {
		if derr := json.NewDecoder(resp.Body).Decode(out); derr != nil && derr != io.EOF {
			return resp.StatusCode, derr
		}
	}
	return resp.StatusCode, nil
}

// Clients bundles the outward HTTP clients the handler set depends on,
// constructed once at startup from config.ExternalConfig.
type Clients struct {
	GitHub  *GitHubClient
	Sandbox *SandboxClient
	Deploy  *DeployClient
}

// NewClients builds every outward client from configuration.
func NewClients(ext *config.ExternalConfig) *Clients {
	return &Clients{
		GitHub:  NewGitHubClient(ext.GitHub),
		Sandbox: NewSandboxClient(ext.Sandbox),
		Deploy:  NewDeployClient(ext.Deploy),
	}
}
