// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Foxtales library and reader tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/foxtales/internal/apperr"
	"github.com/starford/foxtales/internal/calibre"
	"github.com/starford/foxtales/internal/library"
	"github.com/starford/foxtales/internal/progress"
	"github.com/starford/foxtales/internal/reader"
)

// Library is the part of *library.Service the tools use.
type Library interface {
	Username() string
	List(ctx context.Context, query, fields string, start, limit int) ([]calibre.Item, error)
	Get(ctx context.Context, id int) (library.Details, error)
	Progress(ctx context.Context, id int) (progress.Record, error)
	Metadata(ctx context.Context, id int) (progress.Blob, error)
}

// Server wraps the MCP server with Foxtales tools.
type Server struct {
	mcp       *server.MCPServer
	lib       Library
	comics    *reader.Service
	maxImport int64
}

// New creates a new MCP server. lib or comics may be nil, in which case
// their tools are not registered. maxImport bounds import_comic downloads.
func New(lib Library, comics *reader.Service, maxImport int64) *Server {
	if maxImport <= 0 {
		maxImport = defaultMaxImport
	}
	s := &Server{lib: lib, comics: comics, maxImport: maxImport}

	s.mcp = server.NewMCPServer(
		"Foxtales",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	if lib != nil {
		s.mcp.AddTool(mcp.NewTool("list_books",
			mcp.WithDescription("List library books visible to the service user, newest first."),
			mcp.WithString("query", mcp.Description("Optional calibredb search expression, e.g. title:dune")),
			mcp.WithNumber("start", mcp.Description("Number of books to skip")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of books (default 50)")),
		), s.listBooks)

		s.mcp.AddTool(mcp.NewTool("get_book",
			mcp.WithDescription("Get the metadata of a library book with the service user's reading progress."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Calibre book id")),
		), s.getBook)

		s.mcp.AddTool(mcp.NewTool("get_progress",
			mcp.WithDescription("Get reading progress for a library book. "+
				"Set all_users to return every user's progress."),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Calibre book id")),
			mcp.WithBoolean("all_users", mcp.Description("Return the progress of every user")),
		), s.getProgress)
	}

	if comics != nil {
		s.mcp.AddTool(mcp.NewTool("list_comics",
			mcp.WithDescription("List comics of the reader ordered by title, or search them by title."),
			mcp.WithString("query", mcp.Description("Optional title search")),
		), s.listComics)

		s.mcp.AddTool(mcp.NewTool("get_comic",
			mcp.WithDescription("Get a comic's meta.json: title, pages and reading progress."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Comic identifier (32 hex characters)")),
		), s.getComic)

		s.mcp.AddTool(mcp.NewTool("import_comic",
			mcp.WithDescription("Add a CBZ archive to the reader from an http(s) URL or a base64 data: URI."),
			mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:application/zip;base64,... URI")),
			mcp.WithString("filename", mcp.Description("File name; its stem becomes the title when the archive has no ComicInfo.xml")),
		), s.importComic)
	}

	s.mcp.AddTool(mcp.NewTool("get_data_formats",
		mcp.WithDescription("Describe the JSON shapes of books, comics and reading progress."),
	), s.getDataFormats)

	s.mcp.AddResource(
		mcp.NewResource(dataFormatsURI, "Foxtales Data Formats",
			mcp.WithResourceDescription("JSON shapes of library items, comic meta.json and progress records."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDataFormatsResource,
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

// errorResult turns a service error into a tool error the model can read.
func errorResult(err error) *mcp.CallToolResult {
	var toolErr *calibre.ToolError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found")
	case errors.As(err, &toolErr):
		return mcp.NewToolResultError(fmt.Sprintf("calibredb %s failed: %s", toolErr.Command, toolErr.Output))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func bookID(req mcp.CallToolRequest) (int, error) {
	v, err := req.RequireFloat("id")
	if err != nil {
		return 0, err
	}
	if v < 1 || v != float64(int(v)) {
		return 0, fmt.Errorf("id must be a positive integer, got %v", v)
	}
	return int(v), nil
}

func (s *Server) listBooks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := req.GetInt("start", 0)
	limit := req.GetInt("limit", 50)
	if start < 0 || limit < 0 {
		return mcp.NewToolResultError("start and limit must not be negative"), nil
	}
	items, err := s.lib.List(ctx, req.GetString("query", ""), "", start, limit)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(items)
}

func (s *Server) getBook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := bookID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.lib.Get(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(d)
}

func (s *Server) getProgress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := bookID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.GetBool("all_users", false) {
		blob, err := s.lib.Metadata(ctx, id)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(blob)
	}
	rec, err := s.lib.Progress(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{"user": s.lib.Username(), "progress": rec})
}

func (s *Server) listComics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if q := req.GetString("query", ""); q != "" {
		found, err := s.comics.Search(ctx, q, 50)
		if err != nil {
			return errorResult(err), nil
		}
		return jsonResult(found)
	}
	all, err := s.comics.List(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(all)
}

func (s *Server) getComic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	comic, err := s.comics.Get(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(comic)
}

func (s *Server) getDataFormats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DataFormats), nil
}

func (s *Server) readDataFormatsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      dataFormatsURI,
			MIMEType: "text/markdown",
			Text:     DataFormats,
		},
	}, nil
}
