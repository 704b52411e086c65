package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() Descriptor {
	tool := mcp.NewTool("echo",
		mcp.WithString("text", mcp.Required()),
		mcp.WithString("mode", mcp.Enum("loud", "quiet")),
		mcp.WithNumber("times"),
		mcp.WithBoolean("trim"),
	)
	return Descriptor{
		Schema: &tool.InputSchema,
		Exec: func(_ context.Context, p map[string]any) (any, error) {
			return p["text"], nil
		},
	}
}

func TestInvoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("echo", echoTool()))

	out, err := r.Invoke(context.Background(), "echo", map[string]any{"text": "hi", "times": 2, "mode": "loud"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestInvokeNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestInvokeValidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("echo", echoTool()))
	ctx := context.Background()

	tests := []struct {
		name   string
		params map[string]any
		field  string
	}{
		{"missing required", map[string]any{}, "text"},
		{"wrong type", map[string]any{"text": 5}, "text"},
		{"bad enum", map[string]any{"text": "x", "mode": "whisper"}, "mode"},
		{"number as string", map[string]any{"text": "x", "times": "two"}, "times"},
		{"bool as string", map[string]any{"text": "x", "trim": "yes"}, "trim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Invoke(ctx, "echo", tt.params)
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "echo", ve.Tool)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestInvokeExecutionFailure(t *testing.T) {
	r := NewRegistry()
	cause := errors.New("disk full")
	require.NoError(t, r.Register("broken", Descriptor{
		Exec: func(context.Context, map[string]any) (any, error) { return nil, cause },
	}))

	_, err := r.Invoke(context.Background(), "broken", nil)
	require.ErrorIs(t, err, ErrToolExecution)
	assert.ErrorIs(t, err, cause)

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "broken", ee.Tool)
}

func TestInvokeRecoversPanic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("panicky", Descriptor{
		Exec: func(context.Context, map[string]any) (any, error) { panic("oops") },
	}))
	_, err := r.Invoke(context.Background(), "panicky", nil)
	assert.ErrorIs(t, err, ErrToolExecution)
	assert.Contains(t, err.Error(), "oops")
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", echoTool()))
	assert.Error(t, r.Register("nil", Descriptor{}))
}

func TestSafeMode(t *testing.T) {
	r := NewRegistry()
	d := echoTool()
	d.Mutating = true
	require.NoError(t, r.Register("write", d))
	require.NoError(t, r.Register("read", echoTool()))

	r.SetSafeMode(true)
	_, err := r.Invoke(context.Background(), "write", map[string]any{"text": "x"})
	assert.ErrorIs(t, err, ErrSafeMode)
	_, err = r.Invoke(context.Background(), "read", map[string]any{"text": "x"})
	assert.NoError(t, err)

	r.SetSafeMode(false)
	_, err = r.Invoke(context.Background(), "write", map[string]any{"text": "x"})
	assert.NoError(t, err)
}

func TestValidateIntegerAcceptsWholeFloats(t *testing.T) {
	schema := &mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]any{"n": map[string]any{"type": "integer"}},
	}
	assert.NoError(t, Validate("t", schema, map[string]any{"n": float64(3)}))
	assert.Error(t, Validate("t", schema, map[string]any{"n": 3.5}))
	assert.NoError(t, Validate("t", nil, map[string]any{"anything": true}))
}

func TestValidateNestedObject(t *testing.T) {
	tool := mcp.NewTool("deploy",
		mcp.WithObject("target",
			mcp.Required(),
			mcp.Properties(map[string]any{
				"host": map[string]any{"type": "string"},
				"port": map[string]any{"type": "integer", "minimum": 1},
			}),
		),
		mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"})),
	)
	schema := &tool.InputSchema

	assert.NoError(t, Validate("deploy", schema, map[string]any{
		"target": map[string]any{"host": "db1", "port": 5432},
		"tags":   []string{"blue"},
	}))

	tests := []struct {
		name   string
		params map[string]any
		field  string
	}{
		{"nested type", map[string]any{"target": map[string]any{"host": 7}}, "target/host"},
		{"nested minimum", map[string]any{"target": map[string]any{"port": 0}}, "target/port"},
		{"array items", map[string]any{"target": map[string]any{}, "tags": []any{"ok", 3}}, "tags/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("deploy", schema, tt.params)
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.NotEmpty(t, ve.Reason)
		})
	}
}

type fakeCaller struct {
	server, method, endpoint string
	payload                  any
	resp                     string
	err                      error
}

func (f *fakeCaller) Execute(_ context.Context, server, method, endpoint string, payload any) (json.RawMessage, error) {
	f.server, f.method, f.endpoint, f.payload = server, method, endpoint, payload
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.resp), nil
}

func TestBuiltinsPassThrough(t *testing.T) {
	c := &fakeCaller{resp: `{"content":"package main"}`}
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, c))

	assert.Equal(t, []string{
		"fs_read", "fs_write", "git_commit", "git_push", "git_status",
		"memory_search", "memory_store", "vector_search",
	}, r.Names())

	out, err := r.Invoke(context.Background(), "fs_read", map[string]any{"path": "main.go"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"content": "package main"}, out)
	assert.Equal(t, "filesystem", c.server)
	assert.Equal(t, "POST", c.method)
	assert.Equal(t, "read", c.endpoint)
	assert.Equal(t, map[string]any{"path": "main.go"}, c.payload)

	_, err = r.Invoke(context.Background(), "git_status", nil)
	require.NoError(t, err)
	assert.Equal(t, "git", c.server)
	assert.Equal(t, "GET", c.method)
}

func TestBuiltinsValidateAndWrapErrors(t *testing.T) {
	c := &fakeCaller{err: errors.New("remote call failed")}
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, c))

	_, err := r.Invoke(context.Background(), "fs_write", map[string]any{"path": "a"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.Invoke(context.Background(), "vector_search", map[string]any{"query": "retry"})
	assert.ErrorIs(t, err, ErrToolExecution)
	assert.ErrorIs(t, err, c.err)

	d, ok := r.Lookup("git_commit")
	require.True(t, ok)
	assert.True(t, d.Mutating)
}
