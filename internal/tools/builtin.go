package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// Caller reaches a capability server. *pool.Pool satisfies it.
type Caller interface {
	Execute(ctx context.Context, server, method, endpoint string, payload any) (json.RawMessage, error)
}

type builtin struct {
	name     string
	server   string
	method   string
	endpoint string
	mutating bool
	tool     mcp.Tool
}

func builtins() []builtin {
	return []builtin{
		{
			name: "memory_store", server: "memory", method: http.MethodPost, endpoint: "store",
			tool: mcp.NewTool("memory_store",
				mcp.WithDescription("Store a value in the knowledge graph under a key."),
				mcp.WithString("key", mcp.Required()),
				mcp.WithObject("value"),
				mcp.WithArray("tags"),
			),
		},
		{
			name: "memory_search", server: "memory", method: http.MethodPost, endpoint: "search",
			tool: mcp.NewTool("memory_search",
				mcp.WithDescription("Search the knowledge graph."),
				mcp.WithString("query", mcp.Required()),
				mcp.WithNumber("limit"),
			),
		},
		{
			name: "fs_read", server: "filesystem", method: http.MethodPost, endpoint: "read",
			tool: mcp.NewTool("fs_read",
				mcp.WithDescription("Read a file from the repository."),
				mcp.WithString("path", mcp.Required()),
			),
		},
		{
			name: "fs_write", server: "filesystem", method: http.MethodPost, endpoint: "write", mutating: true,
			tool: mcp.NewTool("fs_write",
				mcp.WithDescription("Write a file in the repository."),
				mcp.WithString("path", mcp.Required()),
				mcp.WithString("content", mcp.Required()),
			),
		},
		{
			name: "git_status", server: "git", method: http.MethodGet, endpoint: "status",
			tool: mcp.NewTool("git_status",
				mcp.WithDescription("Show the working tree status."),
				mcp.WithString("repo"),
			),
		},
		{
			name: "git_commit", server: "git", method: http.MethodPost, endpoint: "commit", mutating: true,
			tool: mcp.NewTool("git_commit",
				mcp.WithDescription("Commit files to the repository."),
				mcp.WithString("message", mcp.Required()),
				mcp.WithArray("files"),
				mcp.WithString("repo"),
			),
		},
		{
			name: "git_push", server: "git", method: http.MethodPost, endpoint: "push", mutating: true,
			tool: mcp.NewTool("git_push",
				mcp.WithDescription("Push a branch to the remote."),
				mcp.WithString("branch", mcp.DefaultString("main")),
				mcp.WithString("repo"),
			),
		},
		{
			name: "vector_search", server: "vector", method: http.MethodPost, endpoint: "search",
			tool: mcp.NewTool("vector_search",
				mcp.WithDescription("Semantic search over indexed code."),
				mcp.WithString("query", mcp.Required()),
				mcp.WithNumber("limit"),
				mcp.WithString("collection"),
			),
		},
	}
}

// RegisterBuiltins adds the pass-through tools for the memory, filesystem,
// git and vector servers.
func RegisterBuiltins(r *Registry, c Caller) error {
	for _, b := range builtins() {
		schema := b.tool.InputSchema
		err := r.Register(b.name, Descriptor{
			Description: b.tool.Description,
			Schema:      &schema,
			Mutating:    b.mutating,
			Exec:        passthrough(c, b.server, b.method, b.endpoint),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func passthrough(c Caller, server, method, endpoint string) Func {
	return func(ctx context.Context, params map[string]any) (any, error) {
		raw, err := c.Execute(ctx, server, method, endpoint, params)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode %s/%s response: %w", server, endpoint, err)
		}
		return out, nil
	}
}
