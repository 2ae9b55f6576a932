package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/tuneforge/internal/model"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Organization: "org-1"})
}

func sseLine(content string) string {
	data, _ := json.Marshal(map[string]interface{}{
		"choices": []interface{}{map[string]interface{}{"delta": map[string]string{"content": content}}},
	})
	return "data: " + string(data) + "\n\n"
}

func drain(t *testing.T, s ChunkStream) ([]string, error) {
	t.Helper()
	defer s.Close()
	var out []string
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, chunk)
	}
}

func TestStreamChat(t *testing.T) {
	var got openAIChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.Equal(t, "org-1", r.Header.Get("OpenAI-Organization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, sseLine(`{"question":`))
		fmt.Fprint(w, sseLine(""))
		fmt.Fprint(w, sseLine(`"Q"}`))
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, sseLine("ignored"))
	})
	stream, err := c.StreamChat(context.Background(), "gpt-4o", []model.Message{{Role: model.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	chunks, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{`{"question":`, `"Q"}`}, chunks)
	require.True(t, got.Stream)
	require.Equal(t, "gpt-4o", got.Model)
}

func TestStreamChatErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","param":null,"code":"invalid_api_key"}}`)
	})
	_, err := c.StreamChat(context.Background(), "gpt-4o", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, "invalid_api_key", apiErr.CodeString())
	require.Equal(t, "", apiErr.ParamString())

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseLine("a"))
		fmt.Fprint(w, "data: {broken\n\n")
	})
	stream, err := c.StreamChat(context.Background(), "gpt-4o", nil)
	require.NoError(t, err)
	chunks, err := drain(t, stream)
	require.Equal(t, []string{"a"}, chunks)
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = NewOpenAIClient(OpenAIConfig{}).StreamChat(context.Background(), "m", nil)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestParseAPIErrorFallback(t *testing.T) {
	e := parseAPIError(http.StatusBadGateway, nil)
	require.Equal(t, http.StatusText(http.StatusBadGateway), e.Message)
	e = parseAPIError(http.StatusBadRequest, []byte("plain failure"))
	require.Equal(t, "plain failure", e.Message)
}

func TestFineTuningEndpoints(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path+" "+r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/fine_tuning/jobs" && r.Method == http.MethodPost:
			var req model.CreateJobRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.True(t, req.Hyperparameters.NEpochs.Auto)
			fmt.Fprint(w, `{"id":"ftjob-1","object":"fine_tuning.job","model":"gpt-4o-mini-2024-07-18","status":"validating_files","created_at":1,"estimated_finish":null,"hyperparameters":{"n_epochs":"auto","batch_size":4,"learning_rate_multiplier":"auto"}}`)
		case r.URL.Path == "/fine_tuning/jobs":
			fmt.Fprint(w, `{"object":"list","data":[{"id":"b","status":"running"},{"id":"a","status":"succeeded"}],"has_more":true}`)
		case r.URL.Path == "/fine_tuning/jobs/missing":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"message":"No such job","type":"invalid_request_error","param":"id","code":null}}`)
		case r.URL.Path == "/fine_tuning/jobs/ftjob-1/cancel":
			fmt.Fprint(w, `{"id":"ftjob-1","status":"cancelled"}`)
		case r.URL.Path == "/fine_tuning/jobs/ftjob-1/events":
			fmt.Fprint(w, `{"object":"list","data":[{"id":"ev-1","created_at":2,"level":"info","message":"Job started"}],"has_more":false}`)
		case r.URL.Path == "/fine_tuning/jobs/ftjob-1/checkpoints":
			fmt.Fprint(w, `{"object":"list","data":[{"id":"cp-1","step_number":10,"metrics":{"step":10,"train_loss":0.5},"fine_tuning_job_id":"ftjob-1"}],"has_more":false,"first_id":"cp-1","last_id":"cp-1"}`)
		case r.URL.Path == "/fine_tuning/jobs/bad":
			fmt.Fprint(w, `{"object":"fine_tuning.job"}`)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	})
	ctx := context.Background()

	job, err := c.CreateJob(ctx, model.CreateJobRequest{Model: "gpt-4o-mini-2024-07-18", TrainingFile: "file-1", Hyperparameters: model.DefaultHyperparameters()})
	require.NoError(t, err)
	require.Equal(t, model.StatusValidatingFiles, job.Status)
	require.Nil(t, job.EstimatedFinish)
	require.Equal(t, float64(4), job.Hyperparameters.BatchSize.Value)

	list, err := c.ListJobs(ctx, model.ListParams{After: "x", Limit: 5})
	require.NoError(t, err)
	require.True(t, list.HasMore)
	require.Equal(t, "b", list.Data[0].ID)

	_, err = c.RetrieveJob(ctx, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "id", apiErr.ParamString())
	require.ErrorIs(t, NormalizeError("retrieve", err), appErr.ErrNotFound)

	_, err = c.RetrieveJob(ctx, "bad")
	require.ErrorIs(t, err, ErrMalformedResponse)

	job, err = c.CancelJob(ctx, "ftjob-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, job.Status)

	events, err := c.ListEvents(ctx, "ftjob-1", model.ListParams{})
	require.NoError(t, err)
	require.Equal(t, "Job started", events.Data[0].Message)

	cps, err := c.ListCheckpoints(ctx, "ftjob-1", model.ListParams{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 0.5, *cps.Data[0].Metrics.TrainLoss)
	require.Equal(t, "cp-1", cps.LastID)

	require.Contains(t, seen, "GET /fine_tuning/jobs after=x&limit=5")
}

func TestUploadFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, PurposeFineTune, r.FormValue("purpose"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"file-abc","object":"file","bytes":%d,"filename":%q,"purpose":"fine-tune"}`, len(data), hdr.Filename)
	})
	file, err := c.UploadFile(context.Background(), "qa_pairs.jsonl", PurposeFineTune, []byte(`{"messages":[]}`))
	require.NoError(t, err)
	require.Equal(t, "file-abc", file.ID)
	require.Equal(t, "qa_pairs.jsonl", file.Filename)
	require.Equal(t, int64(15), file.Bytes)
}

func TestNormalizeError(t *testing.T) {
	code := "rate_limit_exceeded"
	cases := []struct {
		err  error
		kind appErr.Kind
		code string
	}{
		{&APIError{Status: 429, Message: "slow down", Code: &code}, appErr.KindProvider, "rate_limit_exceeded"},
		{&APIError{Status: 500, Message: "oops"}, appErr.KindProvider, "OPENAI_API_ERROR"},
		{ErrUnavailable, appErr.KindProvider, "AI_UNAVAILABLE"},
		{fmt.Errorf("%w: x", ErrMalformedResponse), appErr.KindProvider, "MALFORMED_RESPONSE"},
		{context.DeadlineExceeded, appErr.KindUnexpected, "REQUEST_TIMEOUT"},
		{context.Canceled, appErr.KindUnexpected, "REQUEST_CANCELLED"},
		{errors.New("boom"), appErr.KindUnexpected, "UNEXPECTED_ERROR"},
		{appErr.Validation("BAD", "bad"), appErr.KindValidation, "BAD"},
	}
	for _, tc := range cases {
		got := NormalizeError("act", tc.err)
		require.Equal(t, tc.kind, got.Kind, tc.err.Error())
		require.Equal(t, tc.code, got.Code)
		require.Equal(t, "act", got.Action)
	}
	require.Nil(t, NormalizeError("act", nil))
}

func TestRegistry(t *testing.T) {
	p, err := NewProvider("OpenAI", map[string]interface{}{"api_key": "k"})
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name())

	p, err = NewProvider("openrouter", map[string]interface{}{"api_key": "k"})
	require.NoError(t, err)
	require.Equal(t, "openrouter", p.Name())

	_, err = NewProvider("nope", map[string]interface{}{})
	require.Error(t, err)
	_, err = NewProvider("", nil)
	require.Error(t, err)
	_, err = NewProvider("openai", nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "config is required"))
}

type stubStreamer struct {
	name string
	err  error
	hits int
}

func (s *stubStreamer) Stream(ctx context.Context, messages []model.Message) (ChunkStream, error) {
	s.hits++
	if s.err != nil {
		return nil, s.err
	}
	return newSSEStream(io.NopCloser(strings.NewReader(sseLine(s.name)))), nil
}

func (s *stubStreamer) ModelName() string {
	return s.name
}

func TestGroupStreamerFallsBackOnOpen(t *testing.T) {
	first := &stubStreamer{name: "a", err: errors.New("down")}
	second := &stubStreamer{name: "b"}
	g := NewGroupStreamer([]StreamerEntry{{Name: "a", Streamer: first}, {Name: "b", Streamer: second}}, nil)
	require.Equal(t, "a|b", g.ModelName())
	stream, err := g.Stream(context.Background(), nil)
	require.NoError(t, err)
	chunks, err := drain(t, stream)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, chunks)
	require.Equal(t, 1, first.hits)

	single := NewGroupStreamer([]StreamerEntry{{Name: "b", Streamer: second}}, nil)
	require.Equal(t, second, single)
	require.Nil(t, NewGroupStreamer(nil, nil))
}
