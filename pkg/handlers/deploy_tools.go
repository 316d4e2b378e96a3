package handlers

import (
	"context"

	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/pkg/tools"
)

// NewDeployEdgeFunctionHandler implements deploy_edge_function. It always
// writes a deployment_verification execution log entry, win or lose, since
// the state machine's deployment-tag guard looks for that entry's presence
// rather than the deploy's success flag — a failed deploy still needs to be
// visible to a human reviewer, not silently absent from the log.
func NewDeployEdgeFunctionHandler(deploy *DeployClient, client *ent.Client) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		functionName, _ := input["function_name"].(string)
		entrypoint, _ := input["entrypoint"].(string)
		if functionName == "" {
			return tools.Fail("deploy_edge_function requires function_name")
		}
		rawFiles, ok := input["files"].([]interface{})
		if !ok || len(rawFiles) == 0 {
			return tools.Fail("deploy_edge_function requires a non-empty files array")
		}

		files := make([]EdgeFunctionFile, 0, len(rawFiles))
		for _, rf := range rawFiles {
			m, ok := rf.(map[string]interface{})
			if !ok {
				return tools.Fail("each entry in files must be an object with path and content")
			}
			path, _ := m["path"].(string)
			content, _ := m["content"].(string)
			files = append(files, EdgeFunctionFile{Path: path, Content: content})
		}

		result, deployErr := deploy.Deploy(ctx, functionName, entrypoint, files)

		detail := map[string]interface{}{
			"function_name": functionName,
		}
		if deployErr != nil {
			detail["error"] = deployErr.Error()
		} else {
			detail["deployed"] = result.Deployed
			detail["probe_status"] = result.ProbeStatus
			if result.ProbeError != "" {
				detail["probe_error"] = result.ProbeError
			}
		}
		logErr := writeExecutionLog(ctx, client, meta.WorkOrderID, meta.Actor, "deployment_verification", detail)

		if deployErr != nil {
			return tools.Fail("deploy_edge_function: %v", deployErr)
		}
		if logErr != nil {
			return tools.Fail("deploy_edge_function: deployed but failed to record verification log: %v", logErr)
		}
		if !result.Deployed || result.ProbeError != "" {
			return tools.Fail("deploy_edge_function: deployed=%v probe_error=%q", result.Deployed, result.ProbeError)
		}
		return tools.Ok(map[string]interface{}{"function_url": result.FunctionURL, "probe_status": result.ProbeStatus})
	}
}
