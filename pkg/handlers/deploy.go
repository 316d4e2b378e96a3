package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/worunner/worunner/pkg/config"
)

// DeployClient talks to the edge-function deploy API used by
// deploy_edge_function.
type DeployClient struct {
	api         *apiClient
	maxCharsCLI int
}

// NewDeployClient builds a DeployClient from configuration.
func NewDeployClient(cfg config.DeployConfig) *DeployClient {
	return &DeployClient{
		api:         newAPIClient(cfg.BaseURL, cfg.TokenEnv, 60*time.Second),
		maxCharsCLI: cfg.MaxCharsCLI,
	}
}

// EdgeFunctionFile is one file in a deploy_edge_function payload.
type EdgeFunctionFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// DeployResult is the outcome of a deploy attempt, including the
// post-deploy probe outcome so the caller can write a deployment_verification
// log entry regardless of success.
type DeployResult struct {
	Deployed     bool
	ProbeStatus  int
	ProbeError   string
	FunctionURL  string
}

func totalChars(files []EdgeFunctionFile) int {
	n := 0
	for _, f := range files {
		n += len(f.Content)
	}
	return n
}

// Deploy pushes function_name's files, PATCHing an existing function and
// POSTing a new one, then probes the deployed endpoint. It rejects payloads
// over 50,000 characters before ever calling out, since the deploy API
// silently truncates larger payloads rather than rejecting them.
func (c *DeployClient) Deploy(ctx context.Context, functionName, entrypoint string, files []EdgeFunctionFile) (*DeployResult, error) {
	if totalChars(files) > 50_000 {
		return nil, fmt.Errorf("edge function payload exceeds 50,000 characters; use github_push_files and a CI-driven deploy instead")
	}

	payload := map[string]interface{}{"name": functionName, "entrypoint": entrypoint, "files": files}

	var existing struct {
		Exists bool `json:"exists"`
	}
	if status, err := c.api.do(ctx, "GET", "/functions/"+functionName, nil, &existing); err != nil || status/100 != 2 {
		existing.Exists = false
	}

	method := http.MethodPost
	path := "/functions"
	if existing.Exists {
		method = http.MethodPatch
		path = "/functions/" + functionName
	}

	var deployResp struct {
		URL string `json:"url"`
	}
	status, err := c.api.do(ctx, method, path, payload, &deployResp)
	if err != nil || status/100 != 2 {
		return &DeployResult{Deployed: false, ProbeError: fmt.Sprintf("deploy failed: status=%d err=%v", status, err)}, nil
	}

	result := &DeployResult{Deployed: true, FunctionURL: deployResp.URL}
	probeStatus, probeErr := c.probe(ctx, deployResp.URL)
	result.ProbeStatus = probeStatus
	if probeErr != nil {
		result.ProbeError = probeErr.Error()
	}
	return result, nil
}

func (c *DeployClient) probe(ctx context.Context, url string) (int, error) {
	if url == "" {
		return 0, fmt.Errorf("no function URL returned by deploy API")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.api.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed {
		getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		getResp, err := c.api.http.Do(getReq)
		if err != nil {
			return 0, err
		}
		defer getResp.Body.Close()
		return getResp.StatusCode, nil
	}
	return resp.StatusCode, nil
}
