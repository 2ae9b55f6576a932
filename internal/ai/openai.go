package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/xxxsen/tuneforge/internal/model"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAITimeout = 60
	PurposeFineTune      = "fine-tune"
)

type OpenAIConfig struct {
	APIKey       string            `json:"api_key"`
	BaseURL      string            `json:"base_url"`
	Organization string            `json:"organization"`
	Timeout      int               `json:"timeout"`
	Headers      map[string]string `json:"headers"`
}

// OpenAIClient talks to OpenAI compatible chat, files and fine-tuning APIs.
type OpenAIClient struct {
	name   string
	apiKey string
	rest   *resty.Client
	stream *resty.Client
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	return newOpenAIClient("openai", cfg)
}

func newOpenAIClient(name string, cfg OpenAIConfig) *OpenAIClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	configure := func(c *resty.Client) *resty.Client {
		c.SetBaseURL(baseURL)
		c.SetHeader("Authorization", "Bearer "+apiKey)
		if cfg.Organization != "" {
			c.SetHeader("OpenAI-Organization", cfg.Organization)
		}
		for k, v := range cfg.Headers {
			if v != "" {
				c.SetHeader(k, v)
			}
		}
		return c
	}
	rest := configure(resty.New())
	rest.SetTimeout(time.Duration(timeout) * time.Second)
	// streamed completions are bounded by the caller's context only
	stream := configure(resty.New())
	return &OpenAIClient{
		name:   name,
		apiKey: apiKey,
		rest:   rest,
		stream: stream,
	}
}

func (c *OpenAIClient) Name() string {
	return c.name
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
	Stream   bool            `json:"stream"`
}

func (c *OpenAIClient) StreamChat(ctx context.Context, modelName string, messages []model.Message) (ChunkStream, error) {
	if c.apiKey == "" {
		return nil, ErrUnavailable
	}
	resp, err := c.stream.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetBody(openAIChatRequest{Model: modelName, Messages: messages, Stream: true}).
		SetDoNotParseResponse(true).
		Post("/chat/completions")
	if err != nil {
		return nil, err
	}
	body := resp.RawBody()
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		defer body.Close()
		data, _ := io.ReadAll(body)
		return nil, parseAPIError(resp.StatusCode(), data)
	}
	return newSSEStream(body), nil
}

func (c *OpenAIClient) UploadFile(ctx context.Context, name string, purpose string, content []byte) (*model.File, error) {
	if c.apiKey == "" {
		return nil, ErrUnavailable
	}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(content)).
		SetFormData(map[string]string{"purpose": purpose}).
		Post("/files")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, parseAPIError(resp.StatusCode(), resp.Body())
	}
	var out model.File
	if err := decodeBody(resp.Body(), &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: file id missing", ErrMalformedResponse)
	}
	return &out, nil
}

func (c *OpenAIClient) CreateJob(ctx context.Context, req model.CreateJobRequest) (*model.FineTuningJob, error) {
	var out model.FineTuningJob
	if err := c.do(ctx, http.MethodPost, "/fine_tuning/jobs", req, nil, &out); err != nil {
		return nil, err
	}
	return checkJob(&out)
}

func (c *OpenAIClient) ListJobs(ctx context.Context, params model.ListParams) (*model.JobList, error) {
	var out model.JobList
	if err := c.do(ctx, http.MethodGet, "/fine_tuning/jobs", nil, listQuery(params), &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = []model.FineTuningJob{}
	}
	return &out, nil
}

func (c *OpenAIClient) RetrieveJob(ctx context.Context, jobID string) (*model.FineTuningJob, error) {
	var out model.FineTuningJob
	if err := c.do(ctx, http.MethodGet, "/fine_tuning/jobs/"+url.PathEscape(jobID), nil, nil, &out); err != nil {
		return nil, err
	}
	return checkJob(&out)
}

func (c *OpenAIClient) CancelJob(ctx context.Context, jobID string) (*model.FineTuningJob, error) {
	var out model.FineTuningJob
	if err := c.do(ctx, http.MethodPost, "/fine_tuning/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, &out); err != nil {
		return nil, err
	}
	return checkJob(&out)
}

func (c *OpenAIClient) ListEvents(ctx context.Context, jobID string, params model.ListParams) (*model.EventList, error) {
	var out model.EventList
	if err := c.do(ctx, http.MethodGet, "/fine_tuning/jobs/"+url.PathEscape(jobID)+"/events", nil, listQuery(params), &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = []model.FineTuningEvent{}
	}
	return &out, nil
}

func (c *OpenAIClient) ListCheckpoints(ctx context.Context, jobID string, params model.ListParams) (*model.CheckpointList, error) {
	var out model.CheckpointList
	if err := c.do(ctx, http.MethodGet, "/fine_tuning/jobs/"+url.PathEscape(jobID)+"/checkpoints", nil, listQuery(params), &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		out.Data = []model.FineTuningCheckpoint{}
	}
	return &out, nil
}

func (c *OpenAIClient) do(ctx context.Context, method, path string, body interface{}, query map[string]string, out interface{}) error {
	if c.apiKey == "" {
		return ErrUnavailable
	}
	req := c.rest.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return parseAPIError(resp.StatusCode(), resp.Body())
	}
	if out == nil {
		return nil
	}
	return decodeBody(resp.Body(), out)
}

func decodeBody(data []byte, out interface{}) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func checkJob(job *model.FineTuningJob) (*model.FineTuningJob, error) {
	if job.ID == "" {
		return nil, fmt.Errorf("%w: job id missing", ErrMalformedResponse)
	}
	if job.Status == "" {
		return nil, fmt.Errorf("%w: job %s has no status", ErrMalformedResponse, job.ID)
	}
	return job, nil
}

func listQuery(params model.ListParams) map[string]string {
	query := map[string]string{}
	if params.After != "" {
		query["after"] = params.After
	}
	if params.Limit > 0 {
		query["limit"] = strconv.Itoa(params.Limit)
	}
	return query
}

func createOpenAIFactory(args interface{}) (IStreamProvider, error) {
	cfg := OpenAIConfig{}
	if err := decodeConfig(args, &cfg); err != nil {
		return nil, err
	}
	return NewOpenAIClient(cfg), nil
}

func init() {
	Register("openai", createOpenAIFactory)
}
