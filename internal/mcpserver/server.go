// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes driftguard operations for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/driftguard/internal/manifest"
	"github.com/starford/driftguard/internal/models"
	"github.com/starford/driftguard/internal/report"
)

const reportFormatURI = "driftguard://report-format"

// Guard is the set of operations the server exposes.
type Guard interface {
	Snapshot(ctx context.Context, root string, w manifest.Warner) (*models.Manifest, error)
	Compare(ctx context.Context, root string, w manifest.Warner) (*models.DriftReport, error)
	Baseline(ctx context.Context, root string) (*models.Manifest, error)
}

// Server wraps the MCP server with driftguard tools.
type Server struct {
	mcp         *server.MCPServer
	svc         Guard
	defaultRoot string
}

// New creates a new MCP server with all tools registered. Tools that take a
// path fall back to defaultRoot.
func New(svc Guard, defaultRoot, version string) *Server {
	s := &Server{svc: svc, defaultRoot: defaultRoot}

	s.mcp = server.NewMCPServer(
		"driftguard",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	pathArg := mcp.WithString("path", mcp.Description("Directory to operate on (defaults to the configured root)"))

	s.mcp.AddTool(mcp.NewTool("snapshot",
		mcp.WithDescription("Hash every file under the directory and save the result as its baseline, "+
			"replacing any previous baseline."),
		pathArg,
	), s.snapshot)

	s.mcp.AddTool(mcp.NewTool("compare",
		mcp.WithDescription("Compare the directory against its baseline and return the drift report as JSON. "+
			"See the driftguard://report-format resource for the field meanings. The baseline is not modified."),
		pathArg,
	), s.compare)

	s.mcp.AddTool(mcp.NewTool("baseline_info",
		mcp.WithDescription("Summarize the stored baseline: root, time taken, file and unreadable counts."),
		pathArg,
	), s.baselineInfo)

	s.mcp.AddTool(mcp.NewTool("list_baseline",
		mcp.WithDescription("List baseline entries as '<path>\\t<sha256 or unreadable cause>' lines."),
		pathArg,
		mcp.WithString("prefix", mcp.Description("Only list paths starting with this prefix")),
	), s.listBaseline)

	s.mcp.AddTool(mcp.NewTool("get_report_format",
		mcp.WithDescription("Returns the drift report format description."),
	), s.getReportFormat)

	s.mcp.AddResource(
		mcp.NewResource(reportFormatURI, "Drift Report Format",
			mcp.WithResourceDescription("Fields and kinds of the JSON drift report returned by compare."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readReportFormatResource,
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

func (s *Server) root(req mcp.CallToolRequest) string {
	if p, err := req.RequireString("path"); err == nil && p != "" {
		return p
	}
	return s.defaultRoot
}

// warnings collects per-file warnings for inclusion in a tool result.
type warnings struct {
	mu    sync.Mutex
	lines []string
}

func (w *warnings) Warn(path string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, fmt.Sprintf("Warning: could not read %s: %v", path, err))
}

func (w *warnings) appendTo(text string) string {
	if len(w.lines) == 0 {
		return text
	}
	return text + "\n" + strings.Join(w.lines, "\n")
}

func (s *Server) snapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	warn := &warnings{}
	m, err := s.svc.Snapshot(ctx, s.root(req), warn)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(warn.appendTo(report.SnapshotLine(m))), nil
}

func (s *Server) compare(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	warn := &warnings{}
	r, err := s.svc.Compare(ctx, s.root(req), warn)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(r, "", "  ")
	return mcp.NewToolResultText(warn.appendTo(string(out))), nil
}

func (s *Server) baselineInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := s.svc.Baseline(ctx, s.root(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(strings.Join(report.BaselineLines(m), "\n")), nil
}

func (s *Server) listBaseline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prefix := ""
	if p, err := req.RequireString("prefix"); err == nil {
		prefix = p
	}

	m, err := s.svc.Baseline(ctx, s.root(req))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var lines []string
	for _, rec := range m.Records() {
		if !strings.HasPrefix(rec.Path, prefix) {
			continue
		}
		lines = append(lines, rec.Path+"\t"+rec.Digest.String())
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no entries"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getReportFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ReportFormat), nil
}

func (s *Server) readReportFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      reportFormatURI,
			MIMEType: "text/markdown",
			Text:     ReportFormat,
		},
	}, nil
}
