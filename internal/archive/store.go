package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xxxsen/tuneforge/internal/config"
)

// Store keeps copies of uploaded training corpora.
type Store interface {
	Type() string
	Put(ctx context.Context, key string, r ReadSeekCloser, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type ReadSeekCloser interface {
	Read(p []byte) (n int, err error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

type bytesReadSeekCloser struct {
	*bytes.Reader
}

func (bytesReadSeekCloser) Close() error {
	return nil
}

type Factory func(args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

// New returns nil without error when archiving is disabled.
func New(cfg config.ArchiveConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, nil
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported archive type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

// Key names an archived corpus by day, provider file id and a random
// suffix so repeated uploads never collide.
func Key(fileID string, now time.Time) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, fileID)
	if id == "" {
		id = "corpus"
	}
	return fmt.Sprintf("%s_%s_%s.jsonl", now.UTC().Format("20060102"), id, uuid.NewString()[:8])
}

// PutBytes archives content under key.
func PutBytes(ctx context.Context, s Store, key string, content []byte) error {
	return s.Put(ctx, key, bytesReadSeekCloser{bytes.NewReader(content)}, int64(len(content)))
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("archive config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode archive config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode archive config: %w", err)
	}
	return nil
}
