package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/finetune"
	"github.com/xxxsen/tuneforge/internal/model"
	"github.com/xxxsen/tuneforge/internal/pkg/response"
)

type FineTuneHandler struct {
	client *finetune.Client
	logger *zap.Logger
}

func NewFineTuneHandler(client *finetune.Client, logger *zap.Logger) *FineTuneHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FineTuneHandler{client: client, logger: logger}
}

func (h *FineTuneHandler) Models(c *gin.Context) {
	response.Success(c, gin.H{"models": h.client.SupportedModels()})
}

func (h *FineTuneHandler) bindList(c *gin.Context) (model.ListParams, bool) {
	var params model.ListParams
	if err := c.ShouldBindQuery(&params); err != nil || params.Limit < 0 {
		badRequest(c, "INVALID_PAGINATION", "after must be a string and limit a non-negative integer")
		return model.ListParams{}, false
	}
	return params, true
}

func (h *FineTuneHandler) List(c *gin.Context) {
	params, ok := h.bindList(c)
	if !ok {
		return
	}
	list, err := h.client.List(c.Request.Context(), params)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	response.Success(c, list)
}

func (h *FineTuneHandler) Create(c *gin.Context) {
	var in finetune.CreateJobInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "INVALID_REQUEST", "invalid request body")
		return
	}
	job, err := h.client.Create(c.Request.Context(), in)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	response.Success(c, job)
}

type jobView struct {
	*model.FineTuningJob
	Cancelable bool `json:"cancelable"`
}

func (h *FineTuneHandler) Get(c *gin.Context) {
	job, err := h.client.Retrieve(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	response.Success(c, jobView{FineTuningJob: job, Cancelable: finetune.CanCancel(job)})
}

func (h *FineTuneHandler) Cancel(c *gin.Context) {
	job, err := h.client.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	response.Success(c, jobView{FineTuningJob: job, Cancelable: finetune.CanCancel(job)})
}

func (h *FineTuneHandler) Events(c *gin.Context) {
	params, ok := h.bindList(c)
	if !ok {
		return
	}
	events, err := h.client.ListEvents(c.Request.Context(), c.Param("id"), params)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	response.Success(c, events)
}

func (h *FineTuneHandler) Checkpoints(c *gin.Context) {
	params, ok := h.bindList(c)
	if !ok {
		return
	}
	checkpoints, err := h.client.ListCheckpoints(c.Request.Context(), c.Param("id"), params)
	if err != nil {
		handleError(c, h.logger, err)
		return
	}
	response.Success(c, checkpoints)
}
