package handler

import (
	"bytes"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/archive"
	"github.com/xxxsen/tuneforge/internal/dataset"
	"github.com/xxxsen/tuneforge/internal/finetune"
	"github.com/xxxsen/tuneforge/internal/model"
	"github.com/xxxsen/tuneforge/internal/pkg/errcode"
	"github.com/xxxsen/tuneforge/internal/pkg/response"
)

const previewSize = 5

// FileHandler accepts ready-made JSONL training files.
type FileHandler struct {
	tuner   *finetune.Client
	archive archive.Store
	maxSize int64
	logger  *zap.Logger
}

func NewFileHandler(tuner *finetune.Client, store archive.Store, maxSize int64, logger *zap.Logger) *FileHandler {
	if maxSize <= 0 {
		maxSize = defaultMaxUpload
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHandler{tuner: tuner, archive: store, maxSize: maxSize, logger: logger}
}

type fileUploadResult struct {
	File       *model.File    `json:"file"`
	Examples   int            `json:"examples"`
	Preview    []model.Record `json:"preview"`
	ArchiveKey string         `json:"archive_key,omitempty"`
}

func (h *FileHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxSize))
			return
		}
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "file is required")
		return
	}
	if header.Size > h.maxSize {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxSize))
		return
	}
	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".jsonl" {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "only .jsonl files are accepted")
		return
	}
	opened, err := header.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()
	content, err := io.ReadAll(opened)
	if err != nil {
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	examples, err := dataset.ParseCorpus(bytes.NewReader(content))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	file, err := h.tuner.UploadTrainingFile(c.Request.Context(), filepath.Base(header.Filename), content)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	preview := dataset.RecordsFromCorpus(examples)
	if len(preview) > previewSize {
		preview = preview[:previewSize]
	}
	response.Success(c, fileUploadResult{
		File:       file,
		Examples:   len(examples),
		Preview:    preview,
		ArchiveKey: archiveCorpus(c.Request.Context(), h.archive, h.logger, file.ID, content),
	})
}
