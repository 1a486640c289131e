package mcp

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zot/snippets/internal/config"
	"github.com/zot/snippets/internal/repository"
	"github.com/zot/snippets/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SetLogOutput(io.Discard)
	return NewServer(cfg, repository.New(storage.NewMemoryStorage()), "test")
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return tc.Text
}

// TestAddThenList verifies add_code stores a record that list_codes returns
func TestAddThenList(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleAdd(ctx, call("add_code", map[string]any{"titulo": "Hello", "conteudo": "print(1)"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var added map[string]int64
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &added))
	assert.Equal(t, int64(1), added["id"])

	res, err = s.handleList(ctx, call("list_codes", nil))
	require.NoError(t, err)
	var records []storage.Record
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "Hello", records[0].Title)
	assert.Nil(t, records[0].Image)
}

// TestGetCode verifies lookups by id and the missing-id error
func TestGetCode(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	_, err := s.repo.Create(ctx, "A", "B", nil)
	require.NoError(t, err)

	res, err := s.handleGet(ctx, call("get_code", map[string]any{"id": float64(1)}))
	require.NoError(t, err)
	var rec storage.Record
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &rec))
	assert.Equal(t, "A", rec.Title)

	res, err = s.handleGet(ctx, call("get_code", map[string]any{"id": float64(42)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleGet(ctx, call("get_code", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

// TestSearchCodes verifies term matching and the empty term
func TestSearchCodes(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.repo.Create(ctx, "Hello", "x", nil)
	s.repo.Create(ctx, "Sort", "quickSort", nil)

	res, err := s.handleSearch(ctx, call("search_codes", map[string]any{"term": "sort"}))
	require.NoError(t, err)
	var records []storage.Record
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "Sort", records[0].Title)

	res, err = s.handleSearch(ctx, call("search_codes", map[string]any{"term": ""}))
	require.NoError(t, err)
	assert.Equal(t, "[]", text(t, res))
}

// TestDeleteCode verifies deletes succeed for present and absent ids
func TestDeleteCode(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.repo.Create(ctx, "A", "B", nil)

	for i := 0; i < 2; i++ {
		res, err := s.handleDelete(ctx, call("delete_code", map[string]any{"id": float64(1)}))
		require.NoError(t, err)
		assert.False(t, res.IsError)
	}
	n, err := s.repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
