package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/archive"
	"github.com/xxxsen/tuneforge/internal/dataset"
	"github.com/xxxsen/tuneforge/internal/extractor"
	"github.com/xxxsen/tuneforge/internal/finetune"
	"github.com/xxxsen/tuneforge/internal/model"
	"github.com/xxxsen/tuneforge/internal/pkg/response"
)

const (
	corpusFileName = "qa_pairs.jsonl"
	eventDone      = "done"
	eventError     = "error"
)

type DatasetHandler struct {
	extractor    *extractor.Extractor
	drafts       *dataset.DraftStore
	tuner        *finetune.Client
	archive      archive.Store
	minSelection int
	logger       *zap.Logger
}

func NewDatasetHandler(ex *extractor.Extractor, drafts *dataset.DraftStore, tuner *finetune.Client, store archive.Store, minSelection int, logger *zap.Logger) *DatasetHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatasetHandler{
		extractor:    ex,
		drafts:       drafts,
		tuner:        tuner,
		archive:      store,
		minSelection: minSelection,
		logger:       logger,
	}
}

type generateRequest struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

type streamTrailer struct {
	Type    string      `json:"type"`
	DraftID string      `json:"draft_id,omitempty"`
	Count   int         `json:"count"`
	Error   interface{} `json:"error,omitempty"`
}

// Generate streams extraction events as NDJSON while the provider is still
// producing. The last line is a done or error trailer.
func (h *DatasetHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "invalid request body")
		return
	}
	stream, err := h.extractor.Extract(c.Request.Context(), req.Topic, req.Count)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	enc.SetEscapeHTML(false)

	var records []model.Record
	for {
		ev, ok := stream.Next()
		if !ok {
			break
		}
		if ev.IsRecord() {
			records = append(records, *ev.Record)
		}
		if err := enc.Encode(ev); err != nil {
			h.logger.Warn("client went away during generation", zap.Error(err))
			return
		}
		c.Writer.Flush()
	}

	trailer := streamTrailer{Type: eventDone, Count: len(records)}
	if len(records) > 0 {
		trailer.DraftID = h.drafts.Put(strings.TrimSpace(req.Topic), records).ID
	}
	if err := stream.Err(); err != nil {
		trailer.Type = eventError
		trailer.Error = toStructured(err)
		h.logger.Error("generation ended with error", zap.Int("records", len(records)), zap.Error(err))
	}
	_ = enc.Encode(trailer)
	c.Writer.Flush()
}

type createDraftRequest struct {
	Topic   string         `json:"topic"`
	Records []model.Record `json:"records"`
}

func (h *DatasetHandler) Create(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "INVALID_REQUEST", "invalid request body")
		return
	}
	if len(req.Records) == 0 {
		badRequest(c, "EMPTY_DATASET", "records are required")
		return
	}
	for _, r := range req.Records {
		if strings.TrimSpace(r.Question) == "" || strings.TrimSpace(r.Answer) == "" {
			badRequest(c, "INVALID_RECORD", "every record needs a question and an answer")
			return
		}
	}
	response.Success(c, h.drafts.Put(strings.TrimSpace(req.Topic), req.Records))
}

func (h *DatasetHandler) Get(c *gin.Context) {
	draft, err := h.drafts.Get(c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	response.Success(c, draft)
}

type selectionRequest struct {
	Indices  []int  `json:"indices"`
	Filename string `json:"filename"`
}

// bindSelection treats an absent body as a selection of every record.
func (h *DatasetHandler) bindSelection(c *gin.Context) (dataset.Draft, []int, string, bool) {
	draft, err := h.drafts.Get(c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err)
		return dataset.Draft{}, nil, "", false
	}
	var req selectionRequest
	// chunked requests report an unknown length, so emptiness shows up as EOF
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "INVALID_REQUEST", "invalid request body")
		return dataset.Draft{}, nil, "", false
	}
	if req.Indices == nil {
		req.Indices = make([]int, len(draft.Records))
		for i := range req.Indices {
			req.Indices[i] = i
		}
	}
	return draft, req.Indices, req.Filename, true
}

func (h *DatasetHandler) Preview(c *gin.Context) {
	draft, indices, _, ok := h.bindSelection(c)
	if !ok {
		return
	}
	selected, err := dataset.PreviewSelection(draft.Records, indices, h.minSelection)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	response.Success(c, gin.H{"count": len(selected), "records": selected})
}

func (h *DatasetHandler) Corpus(c *gin.Context) {
	draft, indices, _, ok := h.bindSelection(c)
	if !ok {
		return
	}
	corpus := dataset.ToTrainingCorpus(dataset.SelectSubset(draft.Records, indices))
	c.Header("Content-Disposition", `attachment; filename="`+corpusFileName+`"`)
	c.Data(http.StatusOK, "application/jsonl", []byte(corpus))
}

type uploadResult struct {
	File       *model.File `json:"file"`
	Count      int         `json:"count"`
	ArchiveKey string      `json:"archive_key,omitempty"`
}

// Upload gates the selection, renders the corpus and hands it to the
// provider, returning the file reference for job creation.
func (h *DatasetHandler) Upload(c *gin.Context) {
	draft, indices, filename, ok := h.bindSelection(c)
	if !ok {
		return
	}
	selected, err := dataset.PreviewSelection(draft.Records, indices, h.minSelection)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	if filename == "" {
		filename = corpusFileName
	}
	content := []byte(dataset.ToTrainingCorpus(selected))
	file, err := h.tuner.UploadTrainingFile(c.Request.Context(), filename, content)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	response.Success(c, uploadResult{
		File:       file,
		Count:      len(selected),
		ArchiveKey: archiveCorpus(c.Request.Context(), h.archive, h.logger, file.ID, content),
	})
}

// archiveCorpus keeps a copy of an uploaded corpus. Failures are logged and
// never fail the upload.
func archiveCorpus(ctx context.Context, store archive.Store, logger *zap.Logger, fileID string, content []byte) string {
	if store == nil {
		return ""
	}
	key := archive.Key(fileID, time.Now())
	if err := archive.PutBytes(ctx, store, key, content); err != nil {
		logger.Warn("archive corpus failed", zap.String("file_id", fileID), zap.String("store", store.Type()), zap.Error(err))
		return ""
	}
	return key
}
