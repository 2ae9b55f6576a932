package ai

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/model"
)

type StreamerEntry struct {
	Name     string
	Streamer IStreamer
}

// groupStreamer opens the first entry that accepts the request. Fallback only
// happens before a stream is open; a failure mid-stream is never retried.
type groupStreamer struct {
	items  []StreamerEntry
	logger *zap.Logger
}

func NewGroupStreamer(items []StreamerEntry, logger *zap.Logger) IStreamer {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0].Streamer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &groupStreamer{items: items, logger: logger}
}

func (g *groupStreamer) Stream(ctx context.Context, messages []model.Message) (ChunkStream, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Streamer == nil {
			continue
		}
		stream, err := item.Streamer.Stream(ctx, messages)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		g.logger.Warn("streamer failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		return nil, ErrUnavailable
	}
	return nil, lastErr
}

func (g *groupStreamer) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Streamer == nil {
			continue
		}
		names = append(names, item.Streamer.ModelName())
	}
	return strings.Join(names, "|")
}
