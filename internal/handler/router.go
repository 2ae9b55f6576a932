package handler

import (
	"github.com/gin-gonic/gin"
)

// GenerateRoute streams and must stay out of response compression.
const GenerateRoute = "/api/v1/datasets/generate"

type RouterDeps struct {
	Datasets *DatasetHandler
	Files    *FileHandler
	FineTune *FineTuneHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/datasets/generate", deps.Datasets.Generate)
	api.POST("/datasets", deps.Datasets.Create)
	api.GET("/datasets/:id", deps.Datasets.Get)
	api.POST("/datasets/:id/preview", deps.Datasets.Preview)
	api.POST("/datasets/:id/corpus", deps.Datasets.Corpus)
	api.POST("/datasets/:id/upload", deps.Datasets.Upload)

	api.POST("/files", deps.Files.Upload)

	api.GET("/fine-tuning/models", deps.FineTune.Models)
	api.GET("/fine-tuning/jobs", deps.FineTune.List)
	api.POST("/fine-tuning/jobs", deps.FineTune.Create)
	api.GET("/fine-tuning/jobs/:id", deps.FineTune.Get)
	api.POST("/fine-tuning/jobs/:id/cancel", deps.FineTune.Cancel)
	api.GET("/fine-tuning/jobs/:id/events", deps.FineTune.Events)
	api.GET("/fine-tuning/jobs/:id/checkpoints", deps.FineTune.Checkpoints)
}
