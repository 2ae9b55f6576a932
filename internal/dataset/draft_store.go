package dataset

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/xxxsen/tuneforge/internal/model"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
)

const (
	defaultDraftSize = 1000
	defaultDraftTTL  = 2 * time.Hour
)

// Draft holds the records of one generation so callers can select from
// them by index in later requests.
type Draft struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Records   []model.Record `json:"records"`
	CreatedAt int64          `json:"created_at"`
}

type DraftStore struct {
	cache *expirable.LRU[string, Draft]
}

func NewDraftStore(size int, ttl time.Duration) *DraftStore {
	if size <= 0 {
		size = defaultDraftSize
	}
	if ttl <= 0 {
		ttl = defaultDraftTTL
	}
	return &DraftStore{cache: expirable.NewLRU[string, Draft](size, nil, ttl)}
}

func (s *DraftStore) Put(topic string, records []model.Record) Draft {
	d := Draft{
		ID:        uuid.NewString(),
		Topic:     topic,
		Records:   cloneRecords(records),
		CreatedAt: time.Now().Unix(),
	}
	s.cache.Add(d.ID, d)
	return d
}

func (s *DraftStore) Get(id string) (Draft, error) {
	d, ok := s.cache.Get(id)
	if !ok {
		return Draft{}, appErr.NotFound("DRAFT_NOT_FOUND", "dataset draft not found or expired")
	}
	d.Records = cloneRecords(d.Records)
	return d, nil
}

func (s *DraftStore) Len() int {
	return s.cache.Len()
}

func cloneRecords(records []model.Record) []model.Record {
	if len(records) == 0 {
		return []model.Record{}
	}
	out := make([]model.Record, len(records))
	copy(out, records)
	return out
}
