package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xxxsen/tuneforge/internal/model"
)

var (
	ErrUnavailable       = errors.New("ai provider not configured")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// ChunkStream yields text deltas of one streamed completion. Recv returns
// io.EOF once the provider signals the end of the stream.
type ChunkStream interface {
	Recv() (string, error)
	Close() error
}

type IStreamProvider interface {
	Name() string
	StreamChat(ctx context.Context, model string, messages []model.Message) (ChunkStream, error)
}

type IStreamer interface {
	Stream(ctx context.Context, messages []model.Message) (ChunkStream, error)
	ModelName() string
}

type streamer struct {
	provider IStreamProvider
	model    string
}

func NewStreamer(p IStreamProvider, model string) IStreamer {
	return &streamer{provider: p, model: model}
}

func (s *streamer) Stream(ctx context.Context, messages []model.Message) (ChunkStream, error) {
	return s.provider.StreamChat(ctx, s.model, messages)
}

func (s *streamer) ModelName() string {
	return s.model
}

// APIError is a rejection reported by the upstream API.
type APIError struct {
	Status  int     `json:"-"`
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Param   *string `json:"param"`
	Code    *string `json:"code"`
}

func (e *APIError) Error() string {
	code := ""
	if e.Code != nil {
		code = " (" + *e.Code + ")"
	}
	return fmt.Sprintf("provider request failed: %d%s: %s", e.Status, code, e.Message)
}

func (e *APIError) CodeString() string {
	if e.Code == nil {
		return ""
	}
	return *e.Code
}

func (e *APIError) ParamString() string {
	if e.Param == nil {
		return ""
	}
	return *e.Param
}

func parseAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		envelope.Error.Status = status
		return envelope.Error
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

type ProviderFactory func(args interface{}) (IStreamProvider, error)

var registry = map[string]ProviderFactory{}

func Register(name string, factory ProviderFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func NewProvider(name string, args interface{}) (IStreamProvider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("generation provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported generation provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
