package handlers

import (
	"context"

	"github.com/worunner/worunner/pkg/tools"
)

// NewSandboxExecHandler implements sandbox_exec: validates the command
// against the whitelist and the argument set against the shell-metachar
// guard before ever reaching the sandbox, then ensures the WO's repo is
// cloned (a no-op after the first call per WorkOrder).
func NewSandboxExecHandler(sandbox *SandboxClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		command, _ := input["command"].(string)
		var args []string
		if raw, ok := input["args"].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					args = append(args, s)
				}
			}
		}
		if err := ValidateExecArgs(command, args); err != nil {
			return tools.Fail("sandbox_exec: %v", err)
		}

		timeoutMS := 0
		if v, ok := input["timeout_ms"].(float64); ok {
			timeoutMS = int(v)
		}

		if err := sandbox.EnsureRepoCloned(ctx, meta.WorkOrderID); err != nil {
			return tools.Fail("sandbox_exec: %v", err)
		}

		result, err := sandbox.Exec(ctx, meta.WorkOrderID, command, args, timeoutMS)
		if err != nil {
			return tools.Fail("sandbox_exec: %v", err)
		}
		return tools.Ok(map[string]interface{}{
			"stdout": result.Stdout, "stderr": result.Stderr, "exit_code": result.ExitCode,
		})
	}
}

// NewSandboxWriteFileHandler implements sandbox_write_file.
func NewSandboxWriteFileHandler(sandbox *SandboxClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		path, _ := input["path"].(string)
		content, _ := input["content"].(string)
		if path == "" {
			return tools.Fail("sandbox_write_file requires path")
		}
		if err := sandbox.EnsureRepoCloned(ctx, meta.WorkOrderID); err != nil {
			return tools.Fail("sandbox_write_file: %v", err)
		}
		if err := sandbox.WriteFile(ctx, meta.WorkOrderID, path, content); err != nil {
			return tools.Fail("sandbox_write_file: %v", err)
		}
		return tools.Ok("written")
	}
}

// NewSandboxPipelineHandler implements sandbox_pipeline: a sequence of
// whitelisted commands run in order, stopping at the first non-zero exit.
func NewSandboxPipelineHandler(sandbox *SandboxClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		rawSteps, ok := input["steps"].([]interface{})
		if !ok || len(rawSteps) == 0 {
			return tools.Fail("sandbox_pipeline requires a non-empty steps array")
		}
		if err := sandbox.EnsureRepoCloned(ctx, meta.WorkOrderID); err != nil {
			return tools.Fail("sandbox_pipeline: %v", err)
		}

		var outputs []map[string]interface{}
		for _, rs := range rawSteps {
			step, ok := rs.(map[string]interface{})
			if !ok {
				return tools.Fail("each step must be an object with command and optional args")
			}
			command, _ := step["command"].(string)
			var args []string
			if raw, ok := step["args"].([]interface{}); ok {
				for _, v := range raw {
					if s, ok := v.(string); ok {
						args = append(args, s)
					}
				}
			}
			if err := ValidateExecArgs(command, args); err != nil {
				return tools.Fail("sandbox_pipeline: %v", err)
			}
			result, err := sandbox.Exec(ctx, meta.WorkOrderID, command, args, 0)
			if err != nil {
				return tools.Fail("sandbox_pipeline: %v", err)
			}
			outputs = append(outputs, map[string]interface{}{
				"command": command, "stdout": result.Stdout, "stderr": result.Stderr, "exit_code": result.ExitCode,
			})
			if result.ExitCode != 0 {
				return tools.Ok(map[string]interface{}{"steps": outputs, "stopped_early": true})
			}
		}
		return tools.Ok(map[string]interface{}{"steps": outputs, "stopped_early": false})
	}
}

// NewRunTestsHandler implements run_tests.
func NewRunTestsHandler(sandbox *SandboxClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		testCommand, _ := input["test_command"].(string)
		if err := sandbox.EnsureRepoCloned(ctx, meta.WorkOrderID); err != nil {
			return tools.Fail("run_tests: %v", err)
		}
		result, err := sandbox.RunTests(ctx, meta.WorkOrderID, testCommand)
		if err != nil {
			return tools.Fail("run_tests: %v", err)
		}
		return tools.Ok(map[string]interface{}{
			"stdout": result.Stdout, "stderr": result.Stderr, "exit_code": result.ExitCode,
		})
	}
}
