package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worunner/worunner/pkg/config"
	"github.com/worunner/worunner/pkg/ledger"
	"github.com/worunner/worunner/pkg/tools"
)

func TestRegisterAll_RegistersEveryToolExactlyOnce(t *testing.T) {
	client := newHandlersTestClient(t)
	sm := newHandlersTestSM(client)
	clients := NewClients(&config.ExternalConfig{})
	kb := NewKnowledgeClient(config.SandboxConfig{})
	db := newHandlersTestDB(t)
	led := ledger.New(client)

	reg := tools.NewRegistry()
	require.NotPanics(t, func() {
		RegisterAll(reg, clients, kb, client, sm, db, led)
	})

	wantNames := []string{
		"apply_migration", "execute_sql", "github_push_files", "deploy_edge_function",
		"sandbox_exec", "sandbox_write_file", "sandbox_pipeline", "run_tests",
		"delegate_subtask", "mark_complete", "mark_failed", "transition_state",
		"request_clarification", "answer_clarification",
		"github_read_file", "read_full_file", "github_list_files", "github_search_code",
		"github_grep", "github_tree", "git_log", "git_diff", "git_blame",
		"read_table", "read_execution_log", "get_schema",
		"search_knowledge_base", "search_lessons", "recall_memory", "query_ontology",
		"query_object_links", "query_pipeline_status", "web_fetch",
		"check_clarification", "check_child_status",
	}
	for _, name := range wantNames {
		_, ok := reg.Get(name)
		assert.True(t, ok, "expected tool %q to be registered", name)
	}
}
