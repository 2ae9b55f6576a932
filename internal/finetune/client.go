package finetune

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/ai"
	"github.com/xxxsen/tuneforge/internal/model"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
)

const (
	MaxSuffixLength = 64
	maxLogPayload   = 100
)

var DefaultSupportedModels = []string{"gpt-4o-mini-2024-07-18", "gpt-4o-2024-08-06"}

// Provider is the external fine-tuning job service.
type Provider interface {
	CreateJob(ctx context.Context, req model.CreateJobRequest) (*model.FineTuningJob, error)
	ListJobs(ctx context.Context, params model.ListParams) (*model.JobList, error)
	RetrieveJob(ctx context.Context, jobID string) (*model.FineTuningJob, error)
	CancelJob(ctx context.Context, jobID string) (*model.FineTuningJob, error)
	ListEvents(ctx context.Context, jobID string, params model.ListParams) (*model.EventList, error)
	ListCheckpoints(ctx context.Context, jobID string, params model.ListParams) (*model.CheckpointList, error)
	UploadFile(ctx context.Context, name string, purpose string, content []byte) (*model.File, error)
}

type CreateJobInput struct {
	Model           string                 `json:"model"`
	TrainingFile    string                 `json:"training_file"`
	ValidationFile  string                 `json:"validation_file,omitempty"`
	Suffix          string                 `json:"suffix,omitempty"`
	Seed            *int64                 `json:"seed,omitempty"`
	Hyperparameters *model.Hyperparameters `json:"hyperparameters,omitempty"`
	Integrations    []model.Integration    `json:"integrations,omitempty"`
}

// Client validates requests locally and funnels every provider call through
// one logging and error normalizing boundary. It keeps no state between
// calls.
type Client struct {
	provider Provider
	models   []string
	allowed  map[string]struct{}
	logger   *zap.Logger
}

func NewClient(provider Provider, supportedModels []string, logger *zap.Logger) *Client {
	if len(supportedModels) == 0 {
		supportedModels = DefaultSupportedModels
	}
	allowed := make(map[string]struct{}, len(supportedModels))
	models := make([]string, 0, len(supportedModels))
	for _, m := range supportedModels {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := allowed[m]; ok {
			continue
		}
		allowed[m] = struct{}{}
		models = append(models, m)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{provider: provider, models: models, allowed: allowed, logger: logger}
}

func (c *Client) SupportedModels() []string {
	out := make([]string, len(c.models))
	copy(out, c.models)
	return out
}

func (c *Client) Create(ctx context.Context, in CreateJobInput) (*model.FineTuningJob, error) {
	const action = "createFineTuningJob"
	req, err := c.buildCreateRequest(in)
	if err != nil {
		err.Action = action
		return nil, err
	}
	return invoke(ctx, c, action, "fine_tuning.jobs.create", req, func(ctx context.Context) (*model.FineTuningJob, error) {
		return c.provider.CreateJob(ctx, req)
	})
}

func (c *Client) buildCreateRequest(in CreateJobInput) (model.CreateJobRequest, *appErr.Error) {
	in.Model = strings.TrimSpace(in.Model)
	in.TrainingFile = strings.TrimSpace(in.TrainingFile)
	if in.Model == "" || in.TrainingFile == "" {
		err := appErr.Validation("MISSING_REQUIRED_FIELDS", "model and training_file are required")
		err.Details = map[string]interface{}{"model": in.Model != "", "training_file": in.TrainingFile != ""}
		return model.CreateJobRequest{}, err
	}
	if _, ok := c.allowed[in.Model]; !ok {
		err := appErr.Validation("INVALID_MODEL", fmt.Sprintf("model %s is not supported", in.Model))
		err.Details = map[string]interface{}{"supported_models": c.SupportedModels()}
		return model.CreateJobRequest{}, err
	}
	if utf8.RuneCountInString(in.Suffix) > MaxSuffixLength {
		return model.CreateJobRequest{}, appErr.Validation("INVALID_SUFFIX", fmt.Sprintf("suffix must be at most %d characters", MaxSuffixLength))
	}
	return model.CreateJobRequest{
		Model:           in.Model,
		TrainingFile:    in.TrainingFile,
		ValidationFile:  strings.TrimSpace(in.ValidationFile),
		Suffix:          in.Suffix,
		Seed:            in.Seed,
		Hyperparameters: model.DefaultHyperparameters().Merge(in.Hyperparameters),
		Integrations:    in.Integrations,
	}, nil
}

func (c *Client) List(ctx context.Context, params model.ListParams) (*model.JobList, error) {
	return invoke(ctx, c, "listFineTuningJobs", "fine_tuning.jobs.list", params, func(ctx context.Context) (*model.JobList, error) {
		return c.provider.ListJobs(ctx, params)
	})
}

func (c *Client) Retrieve(ctx context.Context, jobID string) (*model.FineTuningJob, error) {
	const action = "retrieveFineTuningJob"
	id, err := requireJobID(action, jobID)
	if err != nil {
		return nil, err
	}
	return invoke(ctx, c, action, "fine_tuning.jobs.retrieve", id, func(ctx context.Context) (*model.FineTuningJob, error) {
		return c.provider.RetrieveJob(ctx, id)
	})
}

// Cancel forwards every request, including ones for terminal jobs; the
// provider decides whether the cancellation is accepted.
func (c *Client) Cancel(ctx context.Context, jobID string) (*model.FineTuningJob, error) {
	const action = "cancelFineTuningJob"
	id, err := requireJobID(action, jobID)
	if err != nil {
		return nil, err
	}
	return invoke(ctx, c, action, "fine_tuning.jobs.cancel", id, func(ctx context.Context) (*model.FineTuningJob, error) {
		return c.provider.CancelJob(ctx, id)
	})
}

func (c *Client) ListEvents(ctx context.Context, jobID string, params model.ListParams) (*model.EventList, error) {
	const action = "listFineTuningEvents"
	id, err := requireJobID(action, jobID)
	if err != nil {
		return nil, err
	}
	return invoke(ctx, c, action, "fine_tuning.jobs.list_events", id, func(ctx context.Context) (*model.EventList, error) {
		return c.provider.ListEvents(ctx, id, params)
	})
}

func (c *Client) ListCheckpoints(ctx context.Context, jobID string, params model.ListParams) (*model.CheckpointList, error) {
	const action = "listFineTuningCheckpoints"
	id, err := requireJobID(action, jobID)
	if err != nil {
		return nil, err
	}
	return invoke(ctx, c, action, "fine_tuning.jobs.checkpoints.list", id, func(ctx context.Context) (*model.CheckpointList, error) {
		return c.provider.ListCheckpoints(ctx, id, params)
	})
}

// UploadTrainingFile uploads a JSONL corpus with the fine-tune purpose and
// returns the provider file reference.
func (c *Client) UploadTrainingFile(ctx context.Context, name string, content []byte) (*model.File, error) {
	const action = "uploadTrainingFile"
	name = strings.TrimSpace(name)
	if name == "" {
		name = "training.jsonl"
	}
	if len(content) == 0 {
		err := appErr.Validation("EMPTY_FILE", "training file is empty")
		err.Action = action
		return nil, err
	}
	payload := map[string]interface{}{"name": name, "bytes": len(content)}
	return invoke(ctx, c, action, "files.create", payload, func(ctx context.Context) (*model.File, error) {
		file, err := c.provider.UploadFile(ctx, name, ai.PurposeFineTune, content)
		if err == nil && (file == nil || file.ID == "") {
			return nil, fmt.Errorf("%w: file id missing", ai.ErrMalformedResponse)
		}
		return file, err
	})
}

func requireJobID(action, jobID string) (string, error) {
	id := strings.TrimSpace(jobID)
	if id == "" {
		err := appErr.Validation("MISSING_JOB_ID", "job id is required")
		err.Action = action
		return "", err
	}
	return id, nil
}

// invoke times and logs one provider round trip and normalizes its error.
func invoke[T any](ctx context.Context, c *Client, action, method string, payload interface{}, fn func(context.Context) (T, error)) (T, error) {
	logger := c.logger.With(zap.String("action", action), zap.String("method", method))
	logger.Info("provider call started", zap.String("payload", truncate(payload)))
	start := time.Now()
	res, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		normalized := ai.NormalizeError(action, err)
		logger.Error("provider call failed",
			zap.Duration("duration", elapsed),
			zap.String("code", normalized.Code),
			zap.String("kind", normalized.Kind.String()),
			zap.Error(err),
		)
		var zero T
		return zero, normalized
	}
	logger.Info("provider call finished", zap.Duration("duration", elapsed), zap.String("result", truncate(res)))
	return res, nil
}

func truncate(v interface{}) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case fmt.Stringer:
		s = val.String()
	default:
		s = fmt.Sprintf("%+v", v)
	}
	if len(s) <= maxLogPayload {
		return s
	}
	return s[:maxLogPayload] + "..."
}
