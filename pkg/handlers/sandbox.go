package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/worunner/worunner/pkg/config"
)

// SandboxClient talks to the sandbox execution backend used by
// sandbox_exec, sandbox_write_file, and run_tests.
type SandboxClient struct {
	api         *apiClient
	execTimeout time.Duration
	testTimeout time.Duration
	pulled      map[string]bool
}

// NewSandboxClient builds a SandboxClient from configuration.
func NewSandboxClient(cfg config.SandboxConfig) *SandboxClient {
	return &SandboxClient{
		api:         newAPIClient(cfg.BaseURL, "", cfg.ExecTimeout+cfg.TestTimeout+10*time.Second),
		execTimeout: cfg.ExecTimeout,
		testTimeout: cfg.TestTimeout,
		pulled:      make(map[string]bool),
	}
}

// allowedCommands is the sandbox_exec command whitelist. Anything not in
// this set is rejected before the sandbox is ever called.
var allowedCommands = map[string]bool{
	"grep": true, "find": true, "wc": true, "cat": true, "head": true,
	"tail": true, "echo": true, "test": true, "ls": true, "file": true,
	"deno": true, "diff": true, "jq": true, "node": true, "npm": true,
	"npx": true, "tsc": true, "python3": true, "git": true, "curl": true,
	"sed": true,
}

var shellMetachars = []string{"|", ">", "<", ";", "&", "`", "$", "(", ")", "{", "}"}

// ValidateExecArgs rejects a sandbox_exec command not on the whitelist, or
// any argument carrying a shell metacharacter (the sandbox runs the command
// directly, never through a shell, so metacharacters in args would either be
// inert or — worse — silently stripped by the runner, not interpreted as
// the caller likely intended).
func ValidateExecArgs(command string, args []string) error {
	if !allowedCommands[command] {
		return fmt.Errorf("command %q is not in the sandbox whitelist", command)
	}
	for _, a := range args {
		for _, m := range shellMetachars {
			if strings.Contains(a, m) {
				return fmt.Errorf("argument %q contains disallowed shell metacharacter %q", a, m)
			}
		}
	}
	return nil
}

// ExecResult is the outward shape of a sandbox command run.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// EnsureRepoCloned pulls the WO's repo into the sandbox at most once per
// process lifetime per work order, matching the lazy per-WO git-pull cache
// used by sandbox_exec and run_tests.
func (c *SandboxClient) EnsureRepoCloned(ctx context.Context, workOrderID string) error {
	if c.pulled[workOrderID] {
		return nil
	}
	status, err := c.api.do(ctx, "POST", "/repo/ensure-cloned", map[string]string{"work_order_id": workOrderID}, nil)
	if err != nil || status/100 != 2 {
		return fmt.Errorf("ensure repo cloned: status=%d err=%v", status, err)
	}
	c.pulled[workOrderID] = true
	return nil
}

// Exec runs a whitelisted command in the sandbox with the configured exec
// timeout.
func (c *SandboxClient) Exec(ctx context.Context, workOrderID, command string, args []string, timeoutMS int) (*ExecResult, error) {
	timeout := c.execTimeout
	if timeoutMS > 0 {
		timeout = time.Duration(timeoutMS) * time.Millisecond
	}
	var result ExecResult
	payload := map[string]interface{}{
		"work_order_id": workOrderID,
		"command":       command,
		"args":          args,
		"timeout_ms":    timeout.Milliseconds(),
	}
	status, err := c.api.do(ctx, "POST", "/exec", payload, &result)
	if err != nil || status/100 != 2 {
		return nil, fmt.Errorf("sandbox exec: status=%d err=%v", status, err)
	}
	return &result, nil
}

// WriteFile writes content to a path inside the sandbox workspace.
func (c *SandboxClient) WriteFile(ctx context.Context, workOrderID, path, content string) error {
	payload := map[string]interface{}{"work_order_id": workOrderID, "path": path, "content": content}
	status, err := c.api.do(ctx, "POST", "/write-file", payload, nil)
	if err != nil || status/100 != 2 {
		return fmt.Errorf("sandbox write_file: status=%d err=%v", status, err)
	}
	return nil
}

// RunTests runs the repo's test command with a 120-second timeout.
func (c *SandboxClient) RunTests(ctx context.Context, workOrderID, testCommand string) (*ExecResult, error) {
	if testCommand == "" {
		testCommand = "npm test"
	}
	fields := strings.Fields(testCommand)
	if len(fields) == 0 || !testTokenAllowed(fields[0]) {
		return nil, fmt.Errorf("test_command %q does not start with an allowed token", testCommand)
	}

	var result ExecResult
	payload := map[string]interface{}{
		"work_order_id": workOrderID,
		"command":       testCommand,
		"timeout_ms":    120_000,
	}
	status, err := c.api.do(ctx, "POST", "/run-tests", payload, &result)
	if err != nil || status/100 != 2 {
		return nil, fmt.Errorf("sandbox run_tests: status=%d err=%v", status, err)
	}
	return &result, nil
}

func testTokenAllowed(token string) bool {
	switch token {
	case "npm", "npx", "node", "deno", "tsc":
		return true
	default:
		return false
	}
}

// WebFetch fetches a URL through the sandbox's outbound proxy, capped at the
// configured character limit and timeout.
func (c *SandboxClient) WebFetch(ctx context.Context, url string, charLimit int, maxDuration time.Duration) (string, error) {
	var result struct {
		Body string `json:"body"`
	}
	payload := map[string]interface{}{"url": url, "timeout_ms": maxDuration.Milliseconds()}
	status, err := c.api.do(ctx, "POST", "/web-fetch", payload, &result)
	if err != nil || status/100 != 2 {
		return "", fmt.Errorf("web_fetch: status=%d err=%v", status, err)
	}
	if charLimit > 0 && len(result.Body) > charLimit {
		return result.Body[:charLimit] + "\n...[truncated]", nil
	}
	return result.Body, nil
}
