package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/extractor"
	"github.com/xxxsen/tuneforge/internal/finetune"
)

const serverName = "tuneforge"

// Server exposes generation and fine-tuning as MCP tools.
type Server struct {
	extractor    *extractor.Extractor
	tuner        *finetune.Client
	minSelection int
	logger       *zap.Logger
}

func New(ex *extractor.Extractor, tuner *finetune.Client, minSelection int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{extractor: ex, tuner: tuner, minSelection: minSelection, logger: logger}
}

// Build returns an MCP server with every tool registered.
func (s *Server) Build(version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)
	mcp.AddTool(server, metadataGenerate, s.generate)
	mcp.AddTool(server, metadataBuildCorpus, s.buildCorpus)
	mcp.AddTool(server, metadataListJobs, s.listJobs)
	mcp.AddTool(server, metadataGetJob, s.getJob)
	mcp.AddTool(server, metadataCreateJob, s.createJob)
	mcp.AddTool(server, metadataCancelJob, s.cancelJob)
	mcp.AddTool(server, metadataListEvents, s.listEvents)
	mcp.AddTool(server, metadataListCheckpoints, s.listCheckpoints)
	return server
}

// Run serves over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context, version string) error {
	s.logger.Info("mcp server start", zap.String("transport", "stdio"))
	return s.Build(version).Run(ctx, &mcp.StdioTransport{})
}
