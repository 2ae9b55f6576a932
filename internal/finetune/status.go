package finetune

import "github.com/xxxsen/tuneforge/internal/model"

// CanCancel reports whether offering a cancel makes sense for the job.
// Cancel itself does not enforce this.
func CanCancel(job *model.FineTuningJob) bool {
	return job != nil && !job.Status.IsTerminal()
}

type Transition struct {
	JobID string          `json:"job_id"`
	From  model.JobStatus `json:"from,omitempty"`
	To    model.JobStatus `json:"to"`
}

// Tracker remembers the last observed status per job. It is not safe for
// concurrent use.
type Tracker struct {
	last map[string]model.JobStatus
}

func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]model.JobStatus)}
}

// Observe records a snapshot of jobs and returns the status changes since the
// previous snapshot. Jobs seen for the first time report an empty From.
// Terminal jobs missing from the snapshot are forgotten; unfinished ones are
// kept until they are seen to finish.
func (t *Tracker) Observe(jobs []model.FineTuningJob) []Transition {
	var out []Transition
	present := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		present[job.ID] = struct{}{}
		prev, seen := t.last[job.ID]
		if seen && prev == job.Status {
			continue
		}
		out = append(out, Transition{JobID: job.ID, From: prev, To: job.Status})
		t.last[job.ID] = job.Status
	}
	for id, status := range t.last {
		if _, ok := present[id]; !ok && status.IsTerminal() {
			delete(t.last, id)
		}
	}
	return out
}

// Active returns the ids whose last observed status is not terminal.
func (t *Tracker) Active() []string {
	var out []string
	for id, status := range t.last {
		if !status.IsTerminal() {
			out = append(out, id)
		}
	}
	return out
}
