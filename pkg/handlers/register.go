package handlers

import (
	"database/sql"

	"github.com/worunner/worunner/ent"
	"github.com/worunner/worunner/pkg/ledger"
	"github.com/worunner/worunner/pkg/statemachine"
	"github.com/worunner/worunner/pkg/tools"
)

// RegisterAll wires every tool handler into reg. db is the raw connection
// pool used by apply_migration and execute_sql, which operate on
// caller-supplied SQL rather than the ent schema. led is the mutation ledger,
// threaded directly into github_push_files so it can record a verification
// row per pushed file in addition to the dispatcher's own mutation record.
func RegisterAll(reg *tools.Registry, clients *Clients, kb *KnowledgeClient, entClient *ent.Client, sm *statemachine.StateMachine, db *sql.DB, led *ledger.Ledger) {
	mutating := []tools.Definition{
		{Name: "apply_migration", Mutating: true, Handler: NewApplyMigrationHandler(db),
			Extract: extractNamed("migration", "name")},
		{Name: "execute_sql", Mutating: true, Handler: NewExecuteSQLHandler(db),
			Extract: extractNamed("table", "query")},
		{Name: "github_push_files", Mutating: true, Handler: NewGitHubPushFilesHandler(clients.GitHub, clients.Sandbox, entClient, led),
			Extract: extractNamed("commit", "branch")},
		{Name: "deploy_edge_function", Mutating: true, Handler: NewDeployEdgeFunctionHandler(clients.Deploy, entClient),
			Extract: extractNamed("edge_function", "function_name")},
		{Name: "sandbox_exec", Mutating: true, Handler: NewSandboxExecHandler(clients.Sandbox),
			Extract: extractNamed("sandbox_command", "command")},
		{Name: "sandbox_write_file", Mutating: true, Handler: NewSandboxWriteFileHandler(clients.Sandbox),
			Extract: extractNamed("file", "path")},
		{Name: "sandbox_pipeline", Mutating: true, Handler: NewSandboxPipelineHandler(clients.Sandbox)},
		{Name: "run_tests", Mutating: true, Handler: NewRunTestsHandler(clients.Sandbox),
			Extract: func(input map[string]interface{}, result tools.ToolResult) (string, string, string) {
				return "test_run", "", "TEST"
			}},
		{Name: "delegate_subtask", Mutating: true, Handler: NewDelegateSubtaskHandler(entClient, sm),
			Extract: extractNamed("work_order", "name")},
		{Name: "mark_complete", Mutating: true, Handler: NewMarkCompleteHandler(sm, entClient)},
		{Name: "mark_failed", Mutating: true, Handler: NewMarkFailedHandler(sm)},
		{Name: "transition_state", Mutating: true, Handler: NewTransitionStateHandler(sm)},
		{Name: "request_clarification", Mutating: true, Handler: NewRequestClarificationHandler(sm)},
		{Name: "answer_clarification", Mutating: true, Handler: NewAnswerClarificationHandler(sm)},
	}
	for _, d := range mutating {
		reg.Register(d)
	}

	readOnly := map[string]tools.Handler{
		"github_read_file":        NewGitHubReadFileHandler(clients.GitHub),
		"github_read_file_range":  NewGitHubReadFileHandler(clients.GitHub),
		"read_full_file":          NewReadFullFileHandler(clients.GitHub),
		"github_list_files":       NewGitHubListFilesHandler(clients.GitHub),
		"github_search_code":      NewGitHubSearchCodeHandler(clients.GitHub),
		"github_grep":             NewGitHubGrepHandler(clients.Sandbox),
		"github_tree":             NewGitHubTreeHandler(clients.GitHub),
		"git_log":                 NewGitLogHandler(clients.Sandbox),
		"git_diff":                NewGitDiffHandler(clients.Sandbox),
		"git_blame":               NewGitBlameHandler(clients.Sandbox),
		"read_table":              NewReadTableHandler(entClient),
		"read_execution_log":      NewReadExecutionLogHandler(entClient),
		"get_schema":              NewGetSchemaHandler(),
		"search_knowledge_base":   NewKnowledgeQueryHandler(kb, "/knowledge/search"),
		"search_lessons":          NewKnowledgeQueryHandler(kb, "/lessons/search"),
		"recall_memory":           NewKnowledgeQueryHandler(kb, "/memory/recall"),
		"query_ontology":          NewKnowledgeQueryHandler(kb, "/ontology/query"),
		"query_object_links":      NewKnowledgeQueryHandler(kb, "/object-links/query"),
		"query_pipeline_status":   NewKnowledgeQueryHandler(kb, "/pipeline-status/query"),
		"web_fetch":               NewWebFetchHandler(clients.Sandbox),
		"check_clarification":     NewCheckClarificationHandler(entClient),
		"check_child_status":      NewCheckChildStatusHandler(entClient),
	}
	for name, h := range readOnly {
		reg.Register(tools.Definition{Name: name, Mutating: false, Handler: h})
	}
}

// extractNamed builds an ObjectExtractor that reads objectID from the named
// input field, using objectType as a constant label and the tool call's own
// action.
func extractNamed(objectType, field string) tools.ObjectExtractor {
	return func(input map[string]interface{}, result tools.ToolResult) (string, string, string) {
		id, _ := input[field].(string)
		return objectType, id, ""
	}
}
