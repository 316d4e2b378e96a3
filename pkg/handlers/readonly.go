package handlers

import (
	"context"
	"time"

	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/ent/clarificationrequest"
	"github.com/worunner/worunner/ent/executionlogentry"
	"github.com/worunner/worunner/pkg/tools"
)

// NewGitHubSearchCodeHandler implements github_search_code via the Git Data
// API's search endpoint, reusing the same bearer-token client as
// github_push_files.
func NewGitHubSearchCodeHandler(gh *GitHubClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		query, _ := input["query"].(string)
		if query == "" {
			return tools.Fail("github_search_code requires query")
		}
		var out struct {
			Items []map[string]interface{} `json:"items"`
		}
		status, err := gh.api.do(ctx, "GET", "/search/code?q="+query, nil, &out)
		if err != nil || status/100 != 2 {
			return tools.Fail("github_search_code: status=%d err=%v", status, err)
		}
		return tools.Ok(out.Items)
	}
}

// NewGitHubGrepHandler implements github_grep: a ripgrep-style search run
// through the sandbox against the WO's already-cloned repo checkout, which
// is faster and rate-limit-free compared to the GitHub search API for
// repeated in-repo lookups.
func NewGitHubGrepHandler(sandbox *SandboxClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		pattern, _ := input["pattern"].(string)
		if pattern == "" {
			return tools.Fail("github_grep requires pattern")
		}
		if err := sandbox.EnsureRepoCloned(ctx, meta.WorkOrderID); err != nil {
			return tools.Fail("github_grep: %v", err)
		}
		result, err := sandbox.Exec(ctx, meta.WorkOrderID, "grep", []string{"-rn", pattern, "."}, 0)
		if err != nil {
			return tools.Fail("github_grep: %v", err)
		}
		return tools.Ok(result.Stdout)
	}
}

// NewGitHubTreeHandler implements github_tree, an alias over ListFiles that
// returns the same flat path array as github_list_files; no nested listing
// is built.
func NewGitHubTreeHandler(gh *GitHubClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		ref, _ := input["ref"].(string)
		if ref == "" {
			ref = "main"
		}
		paths, err := gh.ListFiles(ctx, ref)
		if err != nil {
			return tools.Fail("github_tree: %v", err)
		}
		return tools.Ok(paths)
	}
}

func gitCommand(sandbox *SandboxClient, name string, defaultArgs []string) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		var args []string
		if raw, ok := input["args"].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					args = append(args, s)
				}
			}
		}
		if len(args) == 0 {
			args = defaultArgs
		}
		full := append([]string{name}, args...)
		if err := ValidateExecArgs("git", full[1:]); err != nil {
			return tools.Fail("%s: %v", name, err)
		}
		if err := sandbox.EnsureRepoCloned(ctx, meta.WorkOrderID); err != nil {
			return tools.Fail("%s: %v", name, err)
		}
		result, err := sandbox.Exec(ctx, meta.WorkOrderID, "git", full, 0)
		if err != nil {
			return tools.Fail("%s: %v", name, err)
		}
		return tools.Ok(result.Stdout)
	}
}

// NewGitLogHandler implements git_log.
func NewGitLogHandler(sandbox *SandboxClient) tools.Handler {
	return gitCommand(sandbox, "log", []string{"--oneline", "-20"})
}

// NewGitDiffHandler implements git_diff.
func NewGitDiffHandler(sandbox *SandboxClient) tools.Handler {
	return gitCommand(sandbox, "diff", nil)
}

// NewGitBlameHandler implements git_blame.
func NewGitBlameHandler(sandbox *SandboxClient) tools.Handler {
	return gitCommand(sandbox, "blame", nil)
}

// NewReadTableHandler implements read_table: a read-only, allowlisted
// window onto a small set of entity tables via the ent client, used by
// agents that need structured data without writing raw SQL.
func NewReadTableHandler(client *ent.Client) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		table, _ := input["table"].(string)
		switch table {
		case "work_orders":
			wos, err := client.WorkOrder.Query().Limit(100).All(ctx)
			if err != nil {
				return tools.Fail("read_table: %v", err)
			}
			return tools.Ok(wos)
		case "qa_findings":
			findings, err := client.QAFinding.Query().Limit(100).All(ctx)
			if err != nil {
				return tools.Fail("read_table: %v", err)
			}
			return tools.Ok(findings)
		default:
			return tools.Fail("read_table: unsupported table %q", table)
		}
	}
}

// NewReadExecutionLogHandler implements read_execution_log: the chronological
// trace of a WorkOrder's tool-driven activity.
func NewReadExecutionLogHandler(client *ent.Client) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		woID, _ := input["work_order_id"].(string)
		if woID == "" {
			woID = meta.WorkOrderID
		}
		entries, err := client.ExecutionLogEntry.Query().
			Where(executionlogentry.WorkOrderID(woID)).
			Order(ent.Asc(executionlogentry.FieldCreatedAt)).
			Limit(200).
			All(ctx)
		if err != nil {
			return tools.Fail("read_execution_log: %v", err)
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.WorkOrderID == woID {
				filtered = append(filtered, e)
			}
		}
		return tools.Ok(filtered)
	}
}

// NewGetSchemaHandler implements get_schema: a static list of entity table
// names rather than a live database introspection call. read_table serves
// only work_orders and qa_findings from this list.
func NewGetSchemaHandler() tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		return tools.Ok(map[string]interface{}{
			"tables": []string{"work_orders", "qa_findings", "mutation_records", "execution_log_entries", "clarification_requests"},
		})
	}
}

// NewKnowledgeQueryHandler builds a read-only handler that posts input to
// path on the knowledge backend and returns its response verbatim. Shared
// by search_knowledge_base, search_lessons, recall_memory, query_ontology,
// query_object_links, and query_pipeline_status.
func NewKnowledgeQueryHandler(kb *KnowledgeClient, path string) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		out, err := kb.Query(ctx, path, input)
		if err != nil {
			return tools.Fail("%s: %v", path, err)
		}
		return tools.Ok(out)
	}
}

// NewWebFetchHandler implements web_fetch, capped at 20,000 characters and a
// 10-second timeout regardless of the caller's sandbox configuration.
func NewWebFetchHandler(sandbox *SandboxClient) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		url, _ := input["url"].(string)
		if url == "" {
			return tools.Fail("web_fetch requires url")
		}
		body, err := sandbox.WebFetch(ctx, url, 20_000, 10*time.Second)
		if err != nil {
			return tools.Fail("web_fetch: %v", err)
		}
		return tools.Ok(body)
	}
}

// NewCheckClarificationHandler implements check_clarification: polls the
// status of a previously raised ClarificationRequest.
func NewCheckClarificationHandler(client *ent.Client) tools.Handler {
	return func(ctx context.Context, input map[string]interface{}, meta tools.CallMeta) tools.ToolResult {
		pending, err := client.ClarificationRequest.Query().
			Where(clarificationrequest.WorkOrderID(meta.WorkOrderID), clarificationrequest.StatusNEQ(clarificationrequest.StatusExpired)).
			Order(ent.Desc(clarificationrequest.FieldCreatedAt)).
			First(ctx)
		if err != nil {
			return tools.Fail("check_clarification: %v", err)
		}
		answer := ""
		if pending.Answer != nil {
			answer = *pending.Answer
		}
		return tools.Ok(map[string]interface{}{
			"status": string(pending.Status),
			"answer": answer,
		})
	}
}
