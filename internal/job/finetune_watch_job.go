package job

import (
	"context"

	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/finetune"
	"github.com/xxxsen/tuneforge/internal/model"
)

type jobLister interface {
	List(ctx context.Context, params model.ListParams) (*model.JobList, error)
}

// FineTuneWatchJob polls the newest fine-tuning jobs and logs every status
// change it observes. It only reads; it never drives a job.
type FineTuneWatchJob struct {
	client  jobLister
	limit   int
	tracker *finetune.Tracker
	logger  *zap.Logger
	onTrans func(finetune.Transition)
}

func NewFineTuneWatchJob(client jobLister, limit int, logger *zap.Logger) *FineTuneWatchJob {
	if limit <= 0 {
		limit = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FineTuneWatchJob{client: client, limit: limit, tracker: finetune.NewTracker(), logger: logger}
}

// OnTransition registers a callback invoked for every observed change.
func (j *FineTuneWatchJob) OnTransition(fn func(finetune.Transition)) {
	j.onTrans = fn
}

func (j *FineTuneWatchJob) Name() string {
	return "fine_tune_watch"
}

func (j *FineTuneWatchJob) Run(ctx context.Context) error {
	if j.client == nil {
		return nil
	}
	list, err := j.client.List(ctx, model.ListParams{Limit: j.limit})
	if err != nil {
		return err
	}
	for _, t := range j.tracker.Observe(list.Data) {
		fields := []zap.Field{zap.String("job_id", t.JobID), zap.String("to", string(t.To))}
		if t.From != "" {
			fields = append(fields, zap.String("from", string(t.From)))
		}
		if t.To.IsTerminal() {
			j.logger.Info("fine-tuning job reached terminal state", fields...)
		} else {
			j.logger.Info("fine-tuning job status changed", fields...)
		}
		if j.onTrans != nil {
			j.onTrans(t)
		}
	}
	j.logger.Debug("fine-tuning jobs polled", zap.Int("listed", len(list.Data)), zap.Int("active", len(j.tracker.Active())))
	return nil
}
