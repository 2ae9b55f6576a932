package model

// Record is one validated question/answer pair.
type Record struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

const (
	DiagnosticStream     = "stream"
	DiagnosticParseError = "parse_error"
	DiagnosticAbandoned  = "abandoned"
)

// Diagnostic is raw stream content surfaced for observability only.
type Diagnostic struct {
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

const (
	EventRecord     = "record"
	EventDiagnostic = "diagnostic"
)

type ExtractionEvent struct {
	Type       string      `json:"type"`
	Record     *Record     `json:"record,omitempty"`
	Diagnostic *Diagnostic `json:"diagnostic,omitempty"`
}

func RecordEvent(r Record) ExtractionEvent {
	return ExtractionEvent{Type: EventRecord, Record: &r}
}

func DiagnosticEvent(raw, reason string) ExtractionEvent {
	return ExtractionEvent{Type: EventDiagnostic, Diagnostic: &Diagnostic{Raw: raw, Reason: reason}}
}

func ParseFailureEvent(raw string, err error) ExtractionEvent {
	ev := DiagnosticEvent(raw, DiagnosticParseError)
	if err != nil {
		ev.Diagnostic.Error = err.Error()
	}
	return ev
}

func (e ExtractionEvent) IsRecord() bool {
	return e.Type == EventRecord && e.Record != nil
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TrainingExample is one line of the fine-tuning corpus.
type TrainingExample struct {
	Messages []Message `json:"messages"`
}

func NewTrainingExample(r Record) TrainingExample {
	return TrainingExample{Messages: []Message{
		{Role: RoleUser, Content: r.Question},
		{Role: RoleAssistant, Content: r.Answer},
	}}
}
