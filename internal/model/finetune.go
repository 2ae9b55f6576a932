package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type JobStatus string

const (
	StatusValidatingFiles JobStatus = "validating_files"
	StatusQueued          JobStatus = "queued"
	StatusRunning         JobStatus = "running"
	StatusSucceeded       JobStatus = "succeeded"
	StatusFailed          JobStatus = "failed"
	StatusCancelled       JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is expected.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s JobStatus) IsKnown() bool {
	switch s {
	case StatusValidatingFiles, StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

const autoValue = "auto"

// HyperValue is either the "auto" sentinel or an explicit number.
type HyperValue struct {
	Auto  bool
	Value float64
}

func AutoValue() *HyperValue {
	return &HyperValue{Auto: true}
}

func NumberValue(v float64) *HyperValue {
	return &HyperValue{Value: v}
}

func (v HyperValue) MarshalJSON() ([]byte, error) {
	if v.Auto {
		return []byte(`"` + autoValue + `"`), nil
	}
	return []byte(strconv.FormatFloat(v.Value, 'f', -1, 64)), nil
}

func (v *HyperValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == autoValue {
			*v = HyperValue{Auto: true}
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("hyperparameter must be %q or a number, got %q", autoValue, s)
		}
		*v = HyperValue{Value: f}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("hyperparameter must be %q or a number: %w", autoValue, err)
	}
	*v = HyperValue{Value: f}
	return nil
}

func (v *HyperValue) String() string {
	if v == nil {
		return ""
	}
	if v.Auto {
		return autoValue
	}
	return strconv.FormatFloat(v.Value, 'f', -1, 64)
}

type Hyperparameters struct {
	NEpochs                *HyperValue `json:"n_epochs,omitempty"`
	BatchSize              *HyperValue `json:"batch_size,omitempty"`
	LearningRateMultiplier *HyperValue `json:"learning_rate_multiplier,omitempty"`
}

// DefaultHyperparameters leaves every field to the provider's automatic choice.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		NEpochs:                AutoValue(),
		BatchSize:              AutoValue(),
		LearningRateMultiplier: AutoValue(),
	}
}

// Merge returns h with every field set in override replaced.
func (h Hyperparameters) Merge(override *Hyperparameters) Hyperparameters {
	if override == nil {
		return h
	}
	if override.NEpochs != nil {
		h.NEpochs = override.NEpochs
	}
	if override.BatchSize != nil {
		h.BatchSize = override.BatchSize
	}
	if override.LearningRateMultiplier != nil {
		h.LearningRateMultiplier = override.LearningRateMultiplier
	}
	return h
}

type WandbIntegration struct {
	Project string   `json:"project"`
	Name    string   `json:"name,omitempty"`
	Entity  string   `json:"entity,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type Integration struct {
	Type  string            `json:"type"`
	Wandb *WandbIntegration `json:"wandb,omitempty"`
}

type JobError struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Param   *string `json:"param"`
}

type FineTuningJob struct {
	ID              string          `json:"id"`
	Object          string          `json:"object"`
	Model           string          `json:"model"`
	Status          JobStatus       `json:"status"`
	CreatedAt       int64           `json:"created_at"`
	FinishedAt      *int64          `json:"finished_at"`
	EstimatedFinish *int64          `json:"estimated_finish"`
	FineTunedModel  *string         `json:"fine_tuned_model"`
	OrganizationID  string          `json:"organization_id,omitempty"`
	TrainingFile    string          `json:"training_file"`
	ValidationFile  *string         `json:"validation_file"`
	ResultFiles     []string        `json:"result_files"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	TrainedTokens   *int64          `json:"trained_tokens"`
	Seed            int64           `json:"seed"`
	Suffix          *string         `json:"user_provided_suffix,omitempty"`
	Integrations    []Integration   `json:"integrations,omitempty"`
	Error           *JobError       `json:"error"`
}

type CreateJobRequest struct {
	Model           string          `json:"model"`
	TrainingFile    string          `json:"training_file"`
	ValidationFile  string          `json:"validation_file,omitempty"`
	Suffix          string          `json:"suffix,omitempty"`
	Seed            *int64          `json:"seed,omitempty"`
	Hyperparameters Hyperparameters `json:"hyperparameters"`
	Integrations    []Integration   `json:"integrations,omitempty"`
}

type ListParams struct {
	After string `json:"after,omitempty" form:"after"`
	Limit int    `json:"limit,omitempty" form:"limit"`
}

type JobList struct {
	Object  string          `json:"object"`
	Data    []FineTuningJob `json:"data"`
	HasMore bool            `json:"has_more"`
}

type FineTuningEvent struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	CreatedAt int64           `json:"created_at"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Type      string          `json:"type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type EventList struct {
	Object  string            `json:"object"`
	Data    []FineTuningEvent `json:"data"`
	HasMore bool              `json:"has_more"`
}

type CheckpointMetrics struct {
	Step                       *float64 `json:"step,omitempty"`
	TrainLoss                  *float64 `json:"train_loss,omitempty"`
	TrainMeanTokenAccuracy     *float64 `json:"train_mean_token_accuracy,omitempty"`
	ValidLoss                  *float64 `json:"valid_loss,omitempty"`
	ValidMeanTokenAccuracy     *float64 `json:"valid_mean_token_accuracy,omitempty"`
	FullValidLoss              *float64 `json:"full_valid_loss,omitempty"`
	FullValidMeanTokenAccuracy *float64 `json:"full_valid_mean_token_accuracy,omitempty"`
}

type FineTuningCheckpoint struct {
	ID                       string            `json:"id"`
	Object                   string            `json:"object"`
	CreatedAt                int64             `json:"created_at"`
	FineTunedModelCheckpoint string            `json:"fine_tuned_model_checkpoint"`
	StepNumber               int64             `json:"step_number"`
	Metrics                  CheckpointMetrics `json:"metrics"`
	FineTuningJobID          string            `json:"fine_tuning_job_id"`
}

type CheckpointList struct {
	Object  string                 `json:"object"`
	Data    []FineTuningCheckpoint `json:"data"`
	HasMore bool                   `json:"has_more"`
	FirstID string                 `json:"first_id,omitempty"`
	LastID  string                 `json:"last_id,omitempty"`
}

// File is an uploaded provider file reference.
type File struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
}
