package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/dataset"
	"github.com/xxxsen/tuneforge/internal/finetune"
	"github.com/xxxsen/tuneforge/internal/model"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
)

var metadataGenerate = &mcp.Tool{
	Name: "generate_qa_pairs",
	Description: "Ask the configured language model for question-answer pairs about a topic. " +
		"Records are extracted from the streamed reply as they arrive. Fragments that are not " +
		"valid pairs are counted as diagnostics and skipped.",
}

type GenerateInput struct {
	Topic string `json:"topic" jsonschema:"subject the pairs should cover"`
	Count int    `json:"count" jsonschema:"number of pairs to request"`
}

type GenerateOutput struct {
	Records     []model.Record `json:"records"`
	Diagnostics int            `json:"diagnostics"`
	// Error is set when the stream failed after some records were read.
	Error string `json:"error,omitempty"`
}

func (s *Server) generate(ctx context.Context, _ *mcp.CallToolRequest, in GenerateInput) (*mcp.CallToolResult, GenerateOutput, error) {
	records, diagnostics, err := s.extractor.Collect(ctx, in.Topic, in.Count)
	if err != nil && len(records) == 0 {
		return nil, GenerateOutput{}, err
	}
	out := GenerateOutput{Records: records, Diagnostics: len(diagnostics)}
	if out.Records == nil {
		out.Records = []model.Record{}
	}
	if err != nil {
		s.logger.Warn("generation ended early", zap.Int("records", len(records)), zap.Error(err))
		out.Error = err.Error()
	}
	return nil, out, nil
}

var metadataBuildCorpus = &mcp.Tool{
	Name: "build_training_corpus",
	Description: "Render selected question-answer pairs as a JSONL chat fine-tuning corpus. " +
		"With upload set, the selection must meet the minimum size and the corpus is uploaded " +
		"as a fine-tune file whose id can be passed to create_fine_tuning_job.",
}

type BuildCorpusInput struct {
	Records  []model.Record `json:"records" jsonschema:"candidate pairs"`
	Indices  []int          `json:"indices,omitempty" jsonschema:"positions to keep, all records when omitted"`
	Upload   bool           `json:"upload,omitempty" jsonschema:"upload the corpus to the provider"`
	Filename string         `json:"filename,omitempty" jsonschema:"uploaded file name"`
}

type BuildCorpusOutput struct {
	Corpus string      `json:"corpus"`
	Count  int         `json:"count"`
	File   *model.File `json:"file,omitempty"`
}

func (s *Server) buildCorpus(ctx context.Context, _ *mcp.CallToolRequest, in BuildCorpusInput) (*mcp.CallToolResult, BuildCorpusOutput, error) {
	indices := in.Indices
	if indices == nil {
		indices = make([]int, len(in.Records))
		for i := range indices {
			indices[i] = i
		}
	}
	if !in.Upload {
		selected := dataset.SelectSubset(in.Records, indices)
		return nil, BuildCorpusOutput{Corpus: dataset.ToTrainingCorpus(selected), Count: len(selected)}, nil
	}
	selected, err := dataset.PreviewSelection(in.Records, indices, s.minSelection)
	if err != nil {
		return nil, BuildCorpusOutput{}, err
	}
	name := in.Filename
	if name == "" {
		name = "qa_pairs.jsonl"
	}
	corpus := dataset.ToTrainingCorpus(selected)
	file, err := s.tuner.UploadTrainingFile(ctx, name, []byte(corpus))
	if err != nil {
		return nil, BuildCorpusOutput{}, err
	}
	return nil, BuildCorpusOutput{Corpus: corpus, Count: len(selected), File: file}, nil
}

// JobView flattens a job so that hyperparameters read as plain strings.
type JobView struct {
	ID              string            `json:"id"`
	Model           string            `json:"model"`
	Status          string            `json:"status"`
	CreatedAt       int64             `json:"created_at"`
	FinishedAt      *int64            `json:"finished_at,omitempty"`
	EstimatedFinish *int64            `json:"estimated_finish,omitempty"`
	FineTunedModel  string            `json:"fine_tuned_model,omitempty"`
	TrainingFile    string            `json:"training_file"`
	ValidationFile  string            `json:"validation_file,omitempty"`
	Hyperparameters map[string]string `json:"hyperparameters"`
	TrainedTokens   *int64            `json:"trained_tokens,omitempty"`
	Error           string            `json:"error,omitempty"`
	Cancelable      bool              `json:"cancelable"`
}

func viewOf(job *model.FineTuningJob) JobView {
	v := JobView{
		ID:              job.ID,
		Model:           job.Model,
		Status:          string(job.Status),
		CreatedAt:       job.CreatedAt,
		FinishedAt:      job.FinishedAt,
		EstimatedFinish: job.EstimatedFinish,
		TrainingFile:    job.TrainingFile,
		TrainedTokens:   job.TrainedTokens,
		Hyperparameters: map[string]string{},
		Cancelable:      finetune.CanCancel(job),
	}
	if job.FineTunedModel != nil {
		v.FineTunedModel = *job.FineTunedModel
	}
	if job.ValidationFile != nil {
		v.ValidationFile = *job.ValidationFile
	}
	hp := job.Hyperparameters
	for name, val := range map[string]*model.HyperValue{
		"n_epochs":                 hp.NEpochs,
		"batch_size":               hp.BatchSize,
		"learning_rate_multiplier": hp.LearningRateMultiplier,
	} {
		if val != nil {
			v.Hyperparameters[name] = val.String()
		}
	}
	if job.Error != nil && job.Error.Message != "" {
		v.Error = job.Error.Message
	}
	return v
}

type PageInput struct {
	After string `json:"after,omitempty" jsonschema:"cursor from a previous page"`
	Limit int    `json:"limit,omitempty" jsonschema:"page size"`
}

func (p PageInput) params() model.ListParams {
	return model.ListParams{After: p.After, Limit: p.Limit}
}

var metadataListJobs = &mcp.Tool{
	Name:        "list_fine_tuning_jobs",
	Description: "List fine-tuning jobs of the organization, newest first.",
}

type ListJobsOutput struct {
	Jobs    []JobView `json:"jobs"`
	HasMore bool      `json:"has_more"`
}

func (s *Server) listJobs(ctx context.Context, _ *mcp.CallToolRequest, in PageInput) (*mcp.CallToolResult, ListJobsOutput, error) {
	list, err := s.tuner.List(ctx, in.params())
	if err != nil {
		return nil, ListJobsOutput{}, err
	}
	out := ListJobsOutput{Jobs: make([]JobView, 0, len(list.Data)), HasMore: list.HasMore}
	for i := range list.Data {
		out.Jobs = append(out.Jobs, viewOf(&list.Data[i]))
	}
	return nil, out, nil
}

type JobInput struct {
	JobID string `json:"job_id" jsonschema:"fine-tuning job id"`
}

var metadataGetJob = &mcp.Tool{
	Name:        "get_fine_tuning_job",
	Description: "Retrieve one fine-tuning job and whether it can still be cancelled.",
}

func (s *Server) getJob(ctx context.Context, _ *mcp.CallToolRequest, in JobInput) (*mcp.CallToolResult, JobView, error) {
	job, err := s.tuner.Retrieve(ctx, in.JobID)
	if err != nil {
		return nil, JobView{}, err
	}
	return nil, viewOf(job), nil
}

var metadataCancelJob = &mcp.Tool{
	Name:        "cancel_fine_tuning_job",
	Description: "Cancel a queued or running fine-tuning job.",
}

func (s *Server) cancelJob(ctx context.Context, _ *mcp.CallToolRequest, in JobInput) (*mcp.CallToolResult, JobView, error) {
	job, err := s.tuner.Cancel(ctx, in.JobID)
	if err != nil {
		return nil, JobView{}, err
	}
	return nil, viewOf(job), nil
}

var metadataCreateJob = &mcp.Tool{
	Name: "create_fine_tuning_job",
	Description: "Start a fine-tuning job from an uploaded training file. Hyperparameters accept " +
		"\"auto\" or a number and default to auto.",
}

type CreateJobInput struct {
	Model                  string `json:"model" jsonschema:"base model to fine-tune"`
	TrainingFile           string `json:"training_file" jsonschema:"id of an uploaded fine-tune file"`
	ValidationFile         string `json:"validation_file,omitempty"`
	Suffix                 string `json:"suffix,omitempty" jsonschema:"up to 64 characters added to the model name"`
	Seed                   *int64 `json:"seed,omitempty"`
	NEpochs                string `json:"n_epochs,omitempty"`
	BatchSize              string `json:"batch_size,omitempty"`
	LearningRateMultiplier string `json:"learning_rate_multiplier,omitempty"`
}

func parseHyper(name, raw string) (*model.HyperValue, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	quoted, _ := json.Marshal(raw)
	v := &model.HyperValue{}
	if err := v.UnmarshalJSON(quoted); err != nil {
		e := appErr.Validation("INVALID_HYPERPARAMETER", fmt.Sprintf("%s: %v", name, err))
		e.Action = "createFineTuningJob"
		return nil, e
	}
	return v, nil
}

func (in CreateJobInput) toClientInput() (finetune.CreateJobInput, error) {
	var hp model.Hyperparameters
	var err error
	if hp.NEpochs, err = parseHyper("n_epochs", in.NEpochs); err != nil {
		return finetune.CreateJobInput{}, err
	}
	if hp.BatchSize, err = parseHyper("batch_size", in.BatchSize); err != nil {
		return finetune.CreateJobInput{}, err
	}
	if hp.LearningRateMultiplier, err = parseHyper("learning_rate_multiplier", in.LearningRateMultiplier); err != nil {
		return finetune.CreateJobInput{}, err
	}
	return finetune.CreateJobInput{
		Model:           in.Model,
		TrainingFile:    in.TrainingFile,
		ValidationFile:  in.ValidationFile,
		Suffix:          in.Suffix,
		Seed:            in.Seed,
		Hyperparameters: &hp,
	}, nil
}

func (s *Server) createJob(ctx context.Context, _ *mcp.CallToolRequest, in CreateJobInput) (*mcp.CallToolResult, JobView, error) {
	clientIn, err := in.toClientInput()
	if err != nil {
		return nil, JobView{}, err
	}
	job, err := s.tuner.Create(ctx, clientIn)
	if err != nil {
		return nil, JobView{}, err
	}
	return nil, viewOf(job), nil
}

var metadataListEvents = &mcp.Tool{
	Name:        "list_fine_tuning_events",
	Description: "List status and training progress events of a fine-tuning job.",
}

type JobPageInput struct {
	JobID string `json:"job_id" jsonschema:"fine-tuning job id"`
	After string `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (in JobPageInput) params() model.ListParams {
	return model.ListParams{After: in.After, Limit: in.Limit}
}

type EventView struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

type ListEventsOutput struct {
	Events  []EventView `json:"events"`
	HasMore bool        `json:"has_more"`
}

func (s *Server) listEvents(ctx context.Context, _ *mcp.CallToolRequest, in JobPageInput) (*mcp.CallToolResult, ListEventsOutput, error) {
	list, err := s.tuner.ListEvents(ctx, in.JobID, in.params())
	if err != nil {
		return nil, ListEventsOutput{}, err
	}
	out := ListEventsOutput{Events: make([]EventView, 0, len(list.Data)), HasMore: list.HasMore}
	for _, ev := range list.Data {
		out.Events = append(out.Events, EventView{ID: ev.ID, CreatedAt: ev.CreatedAt, Level: ev.Level, Message: ev.Message})
	}
	return nil, out, nil
}

var metadataListCheckpoints = &mcp.Tool{
	Name:        "list_fine_tuning_checkpoints",
	Description: "List the checkpoints a fine-tuning job produced, with their training metrics.",
}

type ListCheckpointsOutput struct {
	Checkpoints []model.FineTuningCheckpoint `json:"checkpoints"`
	HasMore     bool                         `json:"has_more"`
}

func (s *Server) listCheckpoints(ctx context.Context, _ *mcp.CallToolRequest, in JobPageInput) (*mcp.CallToolResult, ListCheckpointsOutput, error) {
	list, err := s.tuner.ListCheckpoints(ctx, in.JobID, in.params())
	if err != nil {
		return nil, ListCheckpointsOutput{}, err
	}
	out := ListCheckpointsOutput{Checkpoints: list.Data, HasMore: list.HasMore}
	if out.Checkpoints == nil {
		out.Checkpoints = []model.FineTuningCheckpoint{}
	}
	return nil, out, nil
}
