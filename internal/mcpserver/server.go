// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the bundle engine to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/sddbundle/internal/changes"
	"github.com/starford/sddbundle/internal/engine"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
)

// ChangeFormatURI is the resource URI of the change format contract.
const ChangeFormatURI = "sdd://change-format"

// Server wraps the MCP server with bundle tools.
type Server struct {
	mcp *server.MCPServer
	svc *engine.Service
}

// New creates a new MCP server with all bundle tools registered.
func New(svc *engine.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"sddbundle",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithInstructions("Read the change format with get_change_contract before calling apply_changes. "+
			"Use apply_changes with dry_run=true to check a batch without writing it."),
	)

	s.mcp.AddTool(mcp.NewTool("validate_bundle",
		mcp.WithDescription("Reload the bundle from disk and return its diagnostics (schema, reference, multiplicity and lint findings)."),
		mcp.WithString("entityType", mcp.Description("Only report diagnostics for this entity type")),
	), s.validateBundle)

	s.mcp.AddTool(mcp.NewTool("list_entities",
		mcp.WithDescription("List entities of the bundle, optionally restricted to one entity type."),
		mcp.WithString("entityType", mcp.Description("Entity type to list (empty for all)")),
	), s.listEntities)

	s.mcp.AddTool(mcp.NewTool("read_entity",
		mcp.WithDescription("Read one entity: its payload, outgoing and incoming references and diagnostics."),
		mcp.WithString("entityType", mcp.Required(), mcp.Description("Entity type (e.g. Requirement)")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id (e.g. REQ-001)")),
	), s.readEntity)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all entity fields that reference the given id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the referenced entity")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("search_entities",
		mcp.WithDescription("Search entities by id, title and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchEntities)

	s.mcp.AddTool(mcp.NewTool("apply_changes",
		mcp.WithDescription("Apply a batch of proposed changes atomically. The batch is reverted if the bundle "+
			"has any error afterwards. Read the contract first via get_change_contract or the "+
			ChangeFormatURI+" resource."),
		mcp.WithArray("changes", mcp.Required(),
			mcp.Description("Proposed changes in order"),
			mcp.Items(map[string]any{"type": "object"})),
		mcp.WithBoolean("dry_run", mcp.Description("Validate in memory without writing")),
	), s.applyChanges)

	s.mcp.AddTool(mcp.NewTool("get_change_contract",
		mcp.WithDescription("Returns the change format contract. "+
			"Call this before proposing changes to ensure correct structure."),
	), s.getChangeContract)

	s.mcp.AddTool(mcp.NewTool("get_domain_knowledge",
		mcp.WithDescription("Returns the bundle's domain knowledge document, if the manifest declares one."),
	), s.getDomainKnowledge)

	s.mcp.AddResource(
		mcp.NewResource(ChangeFormatURI, "Change Format Contract",
			mcp.WithResourceDescription("How to express proposed changes to bundle entities."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readChangeFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) validateBundle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.svc.Reload(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	diags := s.svc.Diagnostics(engine.DiagnosticFilter{EntityType: req.GetString("entityType", "")})
	errs, warns := models.Count(diags)
	return jsonResult(map[string]any{
		"valid":       errs == 0,
		"errors":      errs,
		"warnings":    warns,
		"diagnostics": diags,
	})
}

func (s *Server) listEntities(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.svc.Entities(req.GetString("entityType", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(items)
}

func (s *Server) readEntity(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("entityType")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.Entity(typ, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(d)
}

func (s *Server) getBacklinks(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.svc.Backlinks(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return jsonResult(bl)
}

func (s *Server) searchEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) applyChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["changes"]
	if !ok {
		return mcp.NewToolResultError(`required argument "changes" not found`), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	batch, err := changes.DecodeBatch(data, parser.FormatJSON)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(batch) == 0 {
		return mcp.NewToolResultError("changes must not be empty"), nil
	}

	if req.GetBool("dry_run", false) {
		return jsonResult(s.svc.Preview(ctx, batch))
	}

	out, err := s.svc.Apply(ctx, batch)
	if err != nil {
		if out != nil && changes.IsClientError(err) {
			res, _ := jsonResult(out)
			res.IsError = true
			return res, nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, _ := jsonResult(out)
	if out.Reverted {
		res.IsError = true
	}
	return res, nil
}

func (s *Server) getChangeContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ChangeFormatContract), nil
}

func (s *Server) getDomainKnowledge(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, body, err := s.svc.DomainKnowledge()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("<!-- %s -->\n%s", p, body)), nil
}

func (s *Server) readChangeFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      ChangeFormatURI,
			MIMEType: "text/markdown",
			Text:     ChangeFormatContract,
		},
	}, nil
}
