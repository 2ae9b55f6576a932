package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xxxsen/tuneforge/internal/model"
	appErr "github.com/xxxsen/tuneforge/internal/pkg/errors"
)

const (
	DefaultMinSelection = 10
	maxCorpusLine       = 1 << 20
)

// ToTrainingCorpus renders one JSON training example per record, joined by
// newlines, with no trailing newline.
func ToTrainingCorpus(records []model.Record) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, marshalLine(model.NewTrainingExample(r)))
	}
	return strings.Join(lines, "\n")
}

func marshalLine(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// a struct of strings cannot fail to encode
	_ = enc.Encode(v)
	return unescapeLineSeparators(strings.TrimSuffix(buf.String(), "\n"))
}

// unescapeLineSeparators writes U+2028 and U+2029 back as raw runes, which
// encoding/json always escapes. Escape pairs are walked whole so an escaped
// backslash followed by "u2028" is left alone.
func unescapeLineSeparators(s string) string {
	if !strings.Contains(s, `\u202`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch rest := s[i:]; {
		case strings.HasPrefix(rest, `\u2028`):
			b.WriteRune('\u2028')
			i += 5
		case strings.HasPrefix(rest, `\u2029`):
			b.WriteRune('\u2029')
			i += 5
		default:
			b.WriteString(rest[:2])
			i++
		}
	}
	return b.String()
}

// SelectSubset keeps the records whose position is in indices, in their
// original order. Duplicate and out-of-range indices are ignored.
func SelectSubset(records []model.Record, indices []int) []model.Record {
	picked := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(records) {
			continue
		}
		picked[idx] = struct{}{}
	}
	positions := make([]int, 0, len(picked))
	for idx := range picked {
		positions = append(positions, idx)
	}
	sort.Ints(positions)
	out := make([]model.Record, 0, len(positions))
	for _, idx := range positions {
		out = append(out, records[idx])
	}
	return out
}

// PreviewSelection is the gate in front of every corpus upload.
func PreviewSelection(records []model.Record, indices []int, minSelection int) ([]model.Record, error) {
	if minSelection <= 0 {
		minSelection = DefaultMinSelection
	}
	selected := SelectSubset(records, indices)
	if len(selected) < minSelection {
		err := appErr.Validation("SELECTION_TOO_SMALL", fmt.Sprintf("select at least %d records, got %d", minSelection, len(selected)))
		err.Action = "previewSelection"
		err.Details = map[string]interface{}{"selected": len(selected), "minimum": minSelection}
		return nil, err
	}
	return selected, nil
}

// ParseCorpus validates a user supplied JSONL training file.
func ParseCorpus(r io.Reader) ([]model.TrainingExample, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCorpusLine)
	var out []model.TrainingExample
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var example model.TrainingExample
		if err := json.Unmarshal([]byte(text), &example); err != nil {
			return nil, corpusError(line, "line is not a JSON object")
		}
		if len(example.Messages) == 0 {
			return nil, corpusError(line, "messages is empty")
		}
		for i, msg := range example.Messages {
			if msg.Role == "" || msg.Content == "" {
				return nil, corpusError(line, fmt.Sprintf("message %d needs role and content", i))
			}
		}
		out = append(out, example)
	}
	if err := scanner.Err(); err != nil {
		return nil, corpusError(line+1, err.Error())
	}
	if len(out) == 0 {
		return nil, appErr.Validation("EMPTY_CORPUS", "corpus has no training examples")
	}
	return out, nil
}

func corpusError(line int, msg string) error {
	err := appErr.Validation("INVALID_CORPUS", fmt.Sprintf("line %d: %s", line, msg))
	err.Details = map[string]interface{}{"line": line}
	return err
}

// RecordsFromCorpus recovers question/answer pairs from parsed examples.
// Examples without a user and an assistant message are skipped.
func RecordsFromCorpus(examples []model.TrainingExample) []model.Record {
	out := make([]model.Record, 0, len(examples))
	for _, ex := range examples {
		var rec model.Record
		for _, msg := range ex.Messages {
			switch msg.Role {
			case model.RoleUser:
				if rec.Question == "" {
					rec.Question = msg.Content
				}
			case model.RoleAssistant:
				if rec.Answer == "" {
					rec.Answer = msg.Content
				}
			}
		}
		if rec.Question != "" && rec.Answer != "" {
			out = append(out, rec)
		}
	}
	return out
}
