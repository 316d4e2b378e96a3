package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/worunner/worunner/pkg/config"
)

// KnowledgeClient talks to the external knowledge/ontology backend used by
// the search_knowledge_base, search_lessons, recall_memory, query_ontology,
// query_object_links, and query_pipeline_status read-only tools. All six
// share one JSON-in/JSON-out query shape against different endpoints, so
// one client and one generic Query method cover them.
type KnowledgeClient struct {
	api *apiClient
}

// NewKnowledgeClient builds a KnowledgeClient. It reuses the sandbox
// endpoint's base URL family via config.SandboxConfig since the knowledge
// backend is colocated with the sandbox in this deployment; a dedicated
// config section would be warranted if that ever changes.
func NewKnowledgeClient(cfg config.SandboxConfig) *KnowledgeClient {
	return &KnowledgeClient{api: newAPIClient(cfg.BaseURL, "", 15*time.Second)}
}

// Query posts params to path and returns the decoded JSON response body.
func (k *KnowledgeClient) Query(ctx context.Context, path string, params map[string]interface{}) (map[string]interface{}, error) {
	var out map[string]interface{}
	status, err := k.api.do(ctx, "POST", path, params, &out)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, fmt.Errorf("knowledge query %s: status=%d", path, status)
	}
	return out, nil
}
