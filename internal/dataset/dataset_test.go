package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/tuneforge/internal/model"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
)

func makeRecords(n int) []model.Record {
	out := make([]model.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Record{Question: fmt.Sprintf("Q%d", i), Answer: fmt.Sprintf("A%d", i)})
	}
	return out
}

func TestToTrainingCorpusSingle(t *testing.T) {
	got := ToTrainingCorpus([]model.Record{{Question: "Q", Answer: "A"}})
	require.Equal(t, `{"messages":[{"role":"user","content":"Q"},{"role":"assistant","content":"A"}]}`, got)
}

func TestToTrainingCorpusOrderAndEscaping(t *testing.T) {
	got := ToTrainingCorpus([]model.Record{
		{Question: "a<b>&c", Answer: "line\nbreak"},
		{Question: "Q2", Answer: "A2"},
	})
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 2)
	require.Equal(t, `{"messages":[{"role":"user","content":"a<b>&c"},{"role":"assistant","content":"line\nbreak"}]}`, lines[0])
	require.Contains(t, lines[1], `"content":"Q2"`)
	require.False(t, strings.HasSuffix(got, "\n"))
	require.Equal(t, "", ToTrainingCorpus(nil))
}

func TestToTrainingCorpusLineSeparators(t *testing.T) {
	got := ToTrainingCorpus([]model.Record{{Question: "a\u2028b", Answer: `c\u2029d` + "\u2029"}})
	require.Equal(t, "{\"messages\":[{\"role\":\"user\",\"content\":\"a\u2028b\"},"+
		"{\"role\":\"assistant\",\"content\":\"c\\\\u2029d\u2029\"}]}", got)

	var decoded model.TrainingExample
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	require.Equal(t, "a\u2028b", decoded.Messages[0].Content)
	require.Equal(t, `c\u2029d`+"\u2029", decoded.Messages[1].Content)
}

func TestSelectSubset(t *testing.T) {
	records := makeRecords(3)
	require.Equal(t, []model.Record{records[0], records[2]}, SelectSubset(records, []int{0, 2}))
	require.Equal(t, []model.Record{records[0], records[2]}, SelectSubset(records, []int{2, 0}))
	require.Equal(t, []model.Record{records[1]}, SelectSubset(records, []int{1, 1, 5, -1}))
	require.Empty(t, SelectSubset(records, nil))
}

func TestPreviewSelectionMinimum(t *testing.T) {
	records := makeRecords(12)
	nine := []int{0, 1, 2, 3, 4, 5, 6, 7, 8}
	_, err := PreviewSelection(records, nine, 0)
	require.ErrorIs(t, err, appErr.ErrInvalid)
	var structured *appErr.Error
	require.ErrorAs(t, err, &structured)
	require.Equal(t, "SELECTION_TOO_SMALL", structured.Code)

	got, err := PreviewSelection(records, append(nine, 11), 0)
	require.NoError(t, err)
	require.Len(t, got, 10)
	require.Equal(t, records[11], got[9])

	_, err = PreviewSelection(records, []int{0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, 0)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestParseCorpus(t *testing.T) {
	input := ToTrainingCorpus(makeRecords(2)) + "\n\n"
	examples, err := ParseCorpus(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, examples, 2)
	require.Equal(t, makeRecords(2), RecordsFromCorpus(examples))

	_, err = ParseCorpus(strings.NewReader(`{"messages":[{"role":"user","content":"Q"}]}` + "\nnot json"))
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Contains(t, err.Error(), "line 2")

	_, err = ParseCorpus(strings.NewReader(`{"messages":[{"role":"user"}]}`))
	require.ErrorIs(t, err, appErr.ErrInvalid)

	_, err = ParseCorpus(strings.NewReader("\n"))
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestDraftStore(t *testing.T) {
	store := NewDraftStore(2, time.Hour)
	records := makeRecords(3)
	d := store.Put("go", records)
	require.NotEmpty(t, d.ID)

	got, err := store.Get(d.ID)
	require.NoError(t, err)
	require.Equal(t, records, got.Records)
	got.Records[0].Question = "changed"
	again, err := store.Get(d.ID)
	require.NoError(t, err)
	require.Equal(t, "Q0", again.Records[0].Question)

	_, err = store.Get("missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	store.Put("a", nil)
	store.Put("b", nil)
	require.Equal(t, 2, store.Len())
	_, err = store.Get(d.ID)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}
