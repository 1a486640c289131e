// Package mcp exposes the snippet store to AI assistants over the Model
// Context Protocol, served on stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/zot/snippets/internal/config"
	"github.com/zot/snippets/internal/repository"
	"github.com/zot/snippets/internal/search"
)

// Server implements an MCP server for AI integration.
type Server struct {
	config *config.Config
	repo   *repository.Repository
	search *search.Engine
	mcp    *server.MCPServer
}

// NewServer creates a new MCP server with the snippet tools registered.
func NewServer(cfg *config.Config, repo *repository.Repository, version string) *Server {
	s := &Server{
		config: cfg,
		repo:   repo,
		search: search.New(repo.Backend()),
		mcp:    server.NewMCPServer("snippets", version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio serves MCP requests on stdin and stdout until EOF.
func (s *Server) ServeStdio() error {
	s.config.Log(1, "MCP server ready on stdio")
	return server.ServeStdio(s.mcp)
}
