package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zot/snippets/internal/storage"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_codes",
		mcp.WithDescription("List every stored code snippet in id order"),
	), s.handleList)

	s.mcp.AddTool(mcp.NewTool("get_code",
		mcp.WithDescription("Get one code snippet by id"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Snippet id")),
	), s.handleGet)

	s.mcp.AddTool(mcp.NewTool("search_codes",
		mcp.WithDescription("Find snippets whose title or content contains the term, ignoring case"),
		mcp.WithString("term", mcp.Required(), mcp.Description("Text to look for")),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("add_code",
		mcp.WithDescription("Store a new code snippet and return its id"),
		mcp.WithString("titulo", mcp.Required(), mcp.Description("Snippet title")),
		mcp.WithString("conteudo", mcp.Required(), mcp.Description("Snippet content")),
		mcp.WithString("imagem", mcp.Description("Optional image as a data URI")),
	), s.handleAdd)

	s.mcp.AddTool(mcp.NewTool("delete_code",
		mcp.WithDescription("Delete a code snippet by id; deleting a missing id succeeds"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Snippet id")),
	), s.handleDelete)
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// failure reports err to the caller as a tool error.
func (s *Server) failure(op string, err error) (*mcp.CallToolResult, error) {
	s.config.Error("mcp "+op, err)
	return mcp.NewToolResultError(err.Error()), nil
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.repo.All(ctx)
	if err != nil {
		return s.failure("list_codes", err)
	}
	return jsonResult(records)
}

func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.repo.Get(ctx, int64(id))
	if err != nil {
		return s.failure("get_code", err)
	}
	if rec == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no snippet with id %d", id)), nil
	}
	return jsonResult(rec)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	term, err := req.RequireString("term")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if term == "" {
		return jsonResult([]storage.Record{})
	}
	records, err := s.search.Search(ctx, term)
	if err != nil {
		return s.failure("search_codes", err)
	}
	return jsonResult(records)
}

func (s *Server) handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("titulo")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("conteudo")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	image := storage.StringPtr(req.GetString("imagem", ""))

	id, err := s.repo.Create(ctx, title, content, image)
	if err != nil {
		return s.failure("add_code", err)
	}
	return jsonResult(map[string]int64{"id": id})
}

func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.repo.Delete(ctx, int64(id)); err != nil {
		return s.failure("delete_code", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %d", id)), nil
}
