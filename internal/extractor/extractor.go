package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/ai"
	"github.com/xxxsen/tuneforge/internal/model"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
)

const (
	actionExtract     = "extractRecords"
	defaultMaxCount   = 100
	defaultDebugBatch = 5
)

const systemPrompt = "You are a helpful assistant that generates question-answer pairs on given topics."

type Config struct {
	MaxCount   int
	DebugBatch int
	MaxDepth   int
	// Timeout bounds one whole extraction, in seconds.
	Timeout int
}

type Extractor struct {
	streamer ai.IStreamer
	cfg      Config
	logger   *zap.Logger
}

func New(streamer ai.IStreamer, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = defaultMaxCount
	}
	if cfg.DebugBatch <= 0 {
		cfg.DebugBatch = defaultDebugBatch
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{streamer: streamer, cfg: cfg, logger: logger}
}

func buildMessages(topic string, count int) []model.Message {
	return []model.Message{
		{Role: model.RoleSystem, Content: systemPrompt},
		{Role: model.RoleUser, Content: fmt.Sprintf(`Generate %d question-answer pairs about %s. Format each pair as JSON: {"question": "...", "answer": "..."}`, count, topic)},
	}
}

func (e *Extractor) validate(topic string, count int) error {
	if strings.TrimSpace(topic) == "" {
		err := appErr.Validation("INVALID_TOPIC", "topic is required")
		err.Action = actionExtract
		return err
	}
	if count <= 0 || count > e.cfg.MaxCount {
		err := appErr.Validation("INVALID_COUNT", fmt.Sprintf("count must be between 1 and %d", e.cfg.MaxCount))
		err.Action = actionExtract
		return err
	}
	return nil
}

// Extract opens one provider stream and returns the event sequence read
// from it. The caller must Close the stream.
func (e *Extractor) Extract(ctx context.Context, topic string, count int) (*Stream, error) {
	if err := e.validate(topic, count); err != nil {
		return nil, err
	}
	if e.streamer == nil {
		return nil, ai.NormalizeError(actionExtract, ai.ErrUnavailable)
	}
	topic = strings.TrimSpace(topic)
	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.Timeout)*time.Second)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	logger := e.logger.With(zap.String("topic", topic), zap.Int("count", count), zap.String("model", e.streamer.ModelName()))
	chunks, err := e.streamer.Stream(ctx, buildMessages(topic, count))
	if err != nil {
		cancel()
		logger.Error("open generation stream failed", zap.Error(err))
		return nil, ai.NormalizeError(actionExtract, err)
	}
	logger.Info("generation stream opened")
	return &Stream{
		chunks:  chunks,
		cancel:  cancel,
		scanner: newBraceScanner(e.cfg.MaxDepth),
		batch:   e.cfg.DebugBatch,
		logger:  logger,
		start:   time.Now(),
	}, nil
}

// Collect drains one extraction and returns its records and diagnostics.
func (e *Extractor) Collect(ctx context.Context, topic string, count int) ([]model.Record, []model.Diagnostic, error) {
	stream, err := e.Extract(ctx, topic, count)
	if err != nil {
		return nil, nil, err
	}
	defer stream.Close()
	records := make([]model.Record, 0, count)
	var diagnostics []model.Diagnostic
	for {
		ev, ok := stream.Next()
		if !ok {
			break
		}
		if ev.IsRecord() {
			records = append(records, *ev.Record)
			continue
		}
		if ev.Diagnostic != nil {
			diagnostics = append(diagnostics, *ev.Diagnostic)
		}
	}
	return records, diagnostics, stream.Err()
}

// Stream is a single-use, single-consumer event sequence.
type Stream struct {
	chunks  ai.ChunkStream
	cancel  context.CancelFunc
	scanner *braceScanner
	batch   int
	window  []string
	queue   []model.ExtractionEvent
	records int
	err     error
	done    bool
	closed  bool
	logger  *zap.Logger
	start   time.Time
}

// Next blocks until the next event is available. It returns false once the
// stream is exhausted, failed or closed; see Err.
func (s *Stream) Next() (model.ExtractionEvent, bool) {
	for len(s.queue) == 0 {
		if s.done {
			return model.ExtractionEvent{}, false
		}
		s.pull()
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *Stream) Err() error {
	return s.err
}

// Close releases the provider stream. Events not yet read are dropped.
func (s *Stream) Close() error {
	s.done = true
	s.queue = nil
	return s.release()
}

func (s *Stream) pull() {
	chunk, err := s.chunks.Recv()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = ai.NormalizeError(actionExtract, err)
			s.logger.Error("generation stream failed", zap.Error(err))
		}
		s.finish()
		return
	}
	s.window = append(s.window, chunk)
	if len(s.window) >= s.batch {
		s.flushWindow()
	}
	for _, c := range s.scanner.Feed(chunk) {
		s.queue = append(s.queue, s.decode(c))
	}
}

func (s *Stream) flushWindow() {
	if len(s.window) == 0 {
		return
	}
	s.queue = append(s.queue, model.DiagnosticEvent(strings.Join(s.window, ""), model.DiagnosticStream))
	s.window = s.window[:0]
}

func (s *Stream) finish() {
	s.flushWindow()
	for _, c := range s.scanner.Flush() {
		s.queue = append(s.queue, s.decode(c))
	}
	if pending := s.scanner.Pending(); pending > 0 {
		s.logger.Debug("discard unterminated candidate", zap.Int("bytes", pending))
	}
	s.done = true
	_ = s.release()
	s.logger.Info("generation stream finished", zap.Int("records", s.records), zap.Duration("duration", time.Since(s.start)))
}

func (s *Stream) release() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.chunks.Close()
	s.cancel()
	return err
}

func (s *Stream) decode(c candidate) model.ExtractionEvent {
	if c.abandoned {
		return model.DiagnosticEvent(c.text, model.DiagnosticAbandoned)
	}
	rec, err := parseRecord(c.text)
	if err != nil {
		s.logger.Debug("candidate rejected", zap.String("candidate", c.text), zap.Error(err))
		return model.ParseFailureEvent(c.text, err)
	}
	s.records++
	return model.RecordEvent(rec)
}

func parseRecord(text string) (model.Record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return model.Record{}, fmt.Errorf("%w: %v", appErr.ErrParse, err)
	}
	question, err := stringField(fields, "question")
	if err != nil {
		return model.Record{}, err
	}
	answer, err := stringField(fields, "answer")
	if err != nil {
		return model.Record{}, err
	}
	return model.Record{Question: question, Answer: answer}, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("%w: %s is missing", appErr.ErrParse, name)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", appErr.ErrParse, name)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s is empty", appErr.ErrParse, name)
	}
	return value, nil
}
