package retrieval

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/recurse/internal/tools"
)

// Register adds the retrieval tools to a registry. The memory tier is
// registered only when memoryEnabled.
func Register(registry *tools.Registry, client *Client, memoryEnabled bool) error {
	all := Tools(client, memoryEnabled)
	for _, t := range all {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Tools builds the retrieval tool set backed by client.
func Tools(client *Client, memoryEnabled bool) []tools.Tool {
	set := []tools.Tool{
		contextQueryTool(client),
		docSearchTool(client),
		docSectionsTool(client),
		docReadTool(client),
	}
	if memoryEnabled {
		set = append(set,
			memoryStoreTool(client),
			memoryRecallTool(client),
			memoryListTool(client),
			memoryForgetTool(client),
		)
	}
	return set
}

// passThrough builds a handler that forwards decoded arguments to one API
// tool and renders the response for the model.
func passThrough(client *Client, apiTool string, defaults map[string]any) func(ctx context.Context, params json.RawMessage) (string, error) {
	return func(ctx context.Context, params json.RawMessage) (string, error) {
		args := make(map[string]any)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &args); err != nil {
				return "", err
			}
		}
		for k, v := range defaults {
			if _, ok := args[k]; !ok {
				args[k] = v
			}
		}
		raw, err := client.Call(ctx, apiTool, args)
		if err != nil {
			return "", err
		}
		return renderResponse(raw), nil
	}
}

func contextQueryTool(client *Client) tools.Tool {
	return &tools.FuncTool{
		ToolName: "context_query",
		ToolDescription: "Query optimized context from the documentation index. " +
			"Returns ranked sections within the token budget.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Question or topic to search for"},
				"max_tokens": {"type": "integer", "description": "Maximum tokens in the response"},
				"search_mode": {"type": "string", "enum": ["keyword", "semantic", "hybrid"], "description": "Search mode"}
			},
			"required": ["query"]
		}`),
		Handler: passThrough(client, "rlm_context_query", map[string]any{
			"max_tokens":  4000,
			"search_mode": "hybrid",
		}),
	}
}

func docSearchTool(client *Client) tools.Tool {
	return &tools.FuncTool{
		ToolName:        "doc_search",
		ToolDescription: "Search the documentation for a regex pattern.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "Regex pattern to search for"},
				"max_results": {"type": "integer", "description": "Maximum results to return"}
			},
			"required": ["pattern"]
		}`),
		Handler: passThrough(client, "rlm_search", map[string]any{"max_results": 20}),
	}
}

func docSectionsTool(client *Client) tools.Tool {
	return &tools.FuncTool{
		ToolName:        "doc_sections",
		ToolDescription: "List indexed document sections with optional filtering and pagination.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"filter": {"type": "string", "description": "Filter sections by title prefix"},
				"limit": {"type": "integer", "description": "Maximum sections to return"},
				"offset": {"type": "integer", "description": "Number of sections to skip"}
			}
		}`),
		Handler: passThrough(client, "rlm_sections", map[string]any{"limit": 50, "offset": 0}),
	}
}

func docReadTool(client *Client) tools.Tool {
	return &tools.FuncTool{
		ToolName:        "doc_read",
		ToolDescription: "Read a specific line range from the documentation.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"start_line": {"type": "integer", "description": "Starting line number"},
				"end_line": {"type": "integer", "description": "Ending line number"}
			},
			"required": ["start_line", "end_line"]
		}`),
		Handler: passThrough(client, "rlm_read", nil),
	}
}

func memoryStoreTool(client *Client) tools.Tool {
	return &tools.FuncTool{
		ToolName:        "memory_store",
		ToolDescription: "Store a memory for later semantic recall.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"content": {"type": "string", "description": "The memory content to store"},
				"type": {"type": "string", "enum": ["fact", "decision", "learning", "preference", "todo", "context"], "description": "Memory type"},
				"category": {"type": "string", "description": "Optional category for grouping"},
				"ttl_days": {"type": "integer", "description": "Days until expiration"}
			},
			"required": ["content"]
		}`),
		Handler: passThrough(client, "rlm_remember", map[string]any{"type": "fact"}),
	}
}

func memoryRecallTool(client *Client) tools.Tool {
	return &tools.FuncTool{
		ToolName:        "memory_recall",
		ToolDescription: "Semantically recall relevant memories for a query.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Search query"},
				"limit": {"type": "integer", "description": "Maximum memories to return"},
				"min_relevance": {"type": "number", "description": "Minimum relevance score (0-1)"}
			},
			"required": ["query"]
		}`),
		Handler: passThrough(client, "rlm_recall", map[string]any{
			"limit":         5,
			"min_relevance": 0.5,
		}),
	}
}

func memoryListTool(client *Client) tools.Tool {
	return &tools.FuncTool{
		ToolName:        "memory_list",
		ToolDescription: "List stored memories with optional filters.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"type": {"type": "string", "description": "Filter by memory type"},
				"category": {"type": "string", "description": "Filter by category"},
				"search": {"type": "string", "description": "Text search in content"},
				"limit": {"type": "integer", "description": "Maximum memories to return"},
				"offset": {"type": "integer", "description": "Number to skip"}
			}
		}`),
		Handler: passThrough(client, "rlm_memories", map[string]any{"limit": 20, "offset": 0}),
	}
}

func memoryForgetTool(client *Client) tools.Tool {
	return &tools.FuncTool{
		ToolName:        "memory_forget",
		ToolDescription: "Delete memories by ID or filter criteria.",
		ToolSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"memory_id": {"type": "string", "description": "Specific memory ID to delete"},
				"type": {"type": "string", "description": "Delete all of this type"},
				"category": {"type": "string", "description": "Delete all in this category"},
				"older_than_days": {"type": "integer", "description": "Delete memories older than N days"}
			}
		}`),
		Handler: passThrough(client, "rlm_forget", nil),
	}
}
