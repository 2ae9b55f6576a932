package mcpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/tuneforge/internal/ai"
	"github.com/xxxsen/tuneforge/internal/extractor"
	"github.com/xxxsen/tuneforge/internal/finetune"
	"github.com/xxxsen/tuneforge/internal/model"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
)

type chunkList struct {
	chunks []string
	err    error
}

func (c *chunkList) Recv() (string, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return "", c.err
		}
		return "", io.EOF
	}
	next := c.chunks[0]
	c.chunks = c.chunks[1:]
	return next, nil
}

func (c *chunkList) Close() error { return nil }

type fixedStreamer struct {
	chunks []string
	err    error
}

func (f *fixedStreamer) Stream(ctx context.Context, messages []model.Message) (ai.ChunkStream, error) {
	return &chunkList{chunks: append([]string(nil), f.chunks...), err: f.err}, nil
}

func (f *fixedStreamer) ModelName() string { return "fixed" }

type memProvider struct {
	created  *model.CreateJobRequest
	uploaded []byte
}

func (m *memProvider) CreateJob(ctx context.Context, req model.CreateJobRequest) (*model.FineTuningJob, error) {
	m.created = &req
	return &model.FineTuningJob{ID: "ftjob-1", Model: req.Model, Status: model.StatusValidatingFiles, Hyperparameters: req.Hyperparameters}, nil
}

func (m *memProvider) ListJobs(ctx context.Context, params model.ListParams) (*model.JobList, error) {
	name := "ft:gpt-4o-mini:acme"
	return &model.JobList{Data: []model.FineTuningJob{
		{ID: "ftjob-1", Status: model.StatusRunning},
		{ID: "ftjob-2", Status: model.StatusSucceeded, FineTunedModel: &name},
	}, HasMore: true}, nil
}

func (m *memProvider) RetrieveJob(ctx context.Context, jobID string) (*model.FineTuningJob, error) {
	if jobID != "ftjob-1" {
		return nil, &ai.APIError{Status: http.StatusNotFound, Message: "missing"}
	}
	return &model.FineTuningJob{ID: jobID, Status: model.StatusQueued}, nil
}

func (m *memProvider) CancelJob(ctx context.Context, jobID string) (*model.FineTuningJob, error) {
	return &model.FineTuningJob{ID: jobID, Status: model.StatusCancelled}, nil
}

func (m *memProvider) ListEvents(ctx context.Context, jobID string, params model.ListParams) (*model.EventList, error) {
	return &model.EventList{Data: []model.FineTuningEvent{{ID: "ev-1", Level: "warn", Message: "slow"}}}, nil
}

func (m *memProvider) ListCheckpoints(ctx context.Context, jobID string, params model.ListParams) (*model.CheckpointList, error) {
	return &model.CheckpointList{}, nil
}

func (m *memProvider) UploadFile(ctx context.Context, name string, purpose string, content []byte) (*model.File, error) {
	m.uploaded = content
	return &model.File{ID: "file-1", Filename: name, Purpose: purpose}, nil
}

func newTestServer(streamer ai.IStreamer) (*Server, *memProvider) {
	provider := &memProvider{}
	ex := extractor.New(streamer, extractor.Config{}, nil)
	return New(ex, finetune.NewClient(provider, nil, nil), 2, nil), provider
}

func TestGenerate(t *testing.T) {
	s, _ := newTestServer(&fixedStreamer{chunks: []string{`{"question":"a","answer":"b"} {"question":`, `"c","answer":"d"}`, ` {"bad":1}`}})
	_, out, err := s.generate(context.Background(), &mcp.CallToolRequest{}, GenerateInput{Topic: "go", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []model.Record{{Question: "a", Answer: "b"}, {Question: "c", Answer: "d"}}, out.Records)
	assert.Equal(t, 2, out.Diagnostics)
	assert.Empty(t, out.Error)

	_, _, err = s.generate(context.Background(), &mcp.CallToolRequest{}, GenerateInput{Topic: " ", Count: 2})
	require.True(t, errors.Is(err, appErr.ErrInvalid))
}

func TestGeneratePartialFailure(t *testing.T) {
	s, _ := newTestServer(&fixedStreamer{
		chunks: []string{`{"question":"a","answer":"b"}`},
		err:    &ai.APIError{Status: http.StatusTooManyRequests, Message: "rate limited"},
	})
	_, out, err := s.generate(context.Background(), &mcp.CallToolRequest{}, GenerateInput{Topic: "go", Count: 2})
	require.NoError(t, err)
	assert.Len(t, out.Records, 1)
	assert.Contains(t, out.Error, "rate limited")

	s, _ = newTestServer(&fixedStreamer{err: errors.New("boom")})
	_, _, err = s.generate(context.Background(), &mcp.CallToolRequest{}, GenerateInput{Topic: "go", Count: 2})
	require.Error(t, err)
}

func TestBuildCorpus(t *testing.T) {
	s, provider := newTestServer(nil)
	records := []model.Record{{Question: "q1", Answer: "a1"}, {Question: "q2", Answer: "a2"}, {Question: "q3", Answer: "a3"}}

	_, out, err := s.buildCorpus(context.Background(), &mcp.CallToolRequest{}, BuildCorpusInput{Records: records, Indices: []int{2}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, `{"messages":[{"role":"user","content":"q3"},{"role":"assistant","content":"a3"}]}`, out.Corpus)
	assert.Nil(t, out.File)

	_, _, err = s.buildCorpus(context.Background(), &mcp.CallToolRequest{}, BuildCorpusInput{Records: records, Indices: []int{1}, Upload: true})
	require.True(t, errors.Is(err, appErr.ErrInvalid))
	assert.Nil(t, provider.uploaded)

	_, out, err = s.buildCorpus(context.Background(), &mcp.CallToolRequest{}, BuildCorpusInput{Records: records, Upload: true})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
	require.NotNil(t, out.File)
	assert.Equal(t, "qa_pairs.jsonl", out.File.Filename)
	assert.Equal(t, ai.PurposeFineTune, out.File.Purpose)
	assert.Len(t, strings.Split(string(provider.uploaded), "\n"), 3)
}

func TestJobTools(t *testing.T) {
	s, provider := newTestServer(nil)
	ctx := context.Background()
	req := &mcp.CallToolRequest{}

	_, list, err := s.listJobs(ctx, req, PageInput{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list.Jobs, 2)
	assert.True(t, list.HasMore)
	assert.True(t, list.Jobs[0].Cancelable)
	assert.False(t, list.Jobs[1].Cancelable)
	assert.Equal(t, "ft:gpt-4o-mini:acme", list.Jobs[1].FineTunedModel)

	_, job, err := s.getJob(ctx, req, JobInput{JobID: "ftjob-1"})
	require.NoError(t, err)
	assert.Equal(t, "queued", job.Status)

	_, _, err = s.getJob(ctx, req, JobInput{JobID: "ftjob-9"})
	require.True(t, errors.Is(err, appErr.ErrNotFound))

	_, _, err = s.getJob(ctx, req, JobInput{})
	require.True(t, errors.Is(err, appErr.ErrInvalid))

	_, job, err = s.cancelJob(ctx, req, JobInput{JobID: "ftjob-1"})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", job.Status)
	assert.False(t, job.Cancelable)

	_, events, err := s.listEvents(ctx, req, JobPageInput{JobID: "ftjob-1"})
	require.NoError(t, err)
	assert.Equal(t, []EventView{{ID: "ev-1", Level: "warn", Message: "slow"}}, events.Events)

	_, checkpoints, err := s.listCheckpoints(ctx, req, JobPageInput{JobID: "ftjob-1"})
	require.NoError(t, err)
	assert.NotNil(t, checkpoints.Checkpoints)
	assert.Empty(t, checkpoints.Checkpoints)

	_, created, err := s.createJob(ctx, req, CreateJobInput{Model: "gpt-4o-mini-2024-07-18", TrainingFile: "file-1", NEpochs: "4"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"n_epochs": "4", "batch_size": "auto", "learning_rate_multiplier": "auto"}, created.Hyperparameters)
	require.NotNil(t, provider.created)
	assert.Equal(t, "file-1", provider.created.TrainingFile)

	_, _, err = s.createJob(ctx, req, CreateJobInput{Model: "gpt-4o-mini-2024-07-18", TrainingFile: "file-1", BatchSize: "big"})
	require.True(t, errors.Is(err, appErr.ErrInvalid))
}

func TestBuildRegistersTools(t *testing.T) {
	s, _ := newTestServer(nil)
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	_, err := s.Build("test").Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	res, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"build_training_corpus",
		"cancel_fine_tuning_job",
		"create_fine_tuning_job",
		"generate_qa_pairs",
		"get_fine_tuning_job",
		"list_fine_tuning_checkpoints",
		"list_fine_tuning_events",
		"list_fine_tuning_jobs",
	}, names)
}
