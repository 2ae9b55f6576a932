package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xxxsen/tuneforge/internal/archive"
	"github.com/xxxsen/tuneforge/internal/dataset"
	"github.com/xxxsen/tuneforge/internal/finetune"
	"github.com/xxxsen/tuneforge/internal/model"
)

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func newGenerateCmd(configPath *string) *cobra.Command {
	var (
		topic  string
		count  int
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "generate question-answer pairs for a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "records" && format != "corpus" {
				return fmt.Errorf("--format must be records or corpus")
			}
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			ctx, stop := commandContext()
			defer stop()

			records, diagnostics, err := a.extractor.Collect(ctx, topic, count)
			if err != nil && len(records) == 0 {
				return err
			}
			if err != nil {
				a.logger.Warn("generation ended early, keeping partial records", zap.Int("records", len(records)), zap.Error(err))
			}
			a.logger.Info("generation done", zap.Int("records", len(records)), zap.Int("diagnostics", len(diagnostics)))

			w, closeFn, err := openOutput(out)
			if err != nil {
				return err
			}
			defer closeFn()
			if format == "corpus" {
				_, err = fmt.Fprintln(w, dataset.ToTrainingCorpus(records))
				return err
			}
			enc := json.NewEncoder(w)
			enc.SetEscapeHTML(false)
			for _, r := range records {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic of the pairs")
	cmd.Flags().IntVar(&count, "count", 10, "number of pairs to request")
	cmd.Flags().StringVar(&format, "format", "records", "output format: records or corpus")
	cmd.Flags().StringVar(&out, "out", "", "output file, stdout when empty")
	return cmd
}

func newCorpusCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "validate and upload JSONL training files",
	}

	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "check that a file is a valid chat fine-tuning corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			examples, err := dataset.ParseCorpus(f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"file": args[0], "examples": len(examples)})
		},
	}

	uploadCmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "validate a corpus and upload it as a fine-tune file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := dataset.ParseCorpus(bytes.NewReader(content)); err != nil {
				return err
			}
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			ctx, stop := commandContext()
			defer stop()
			file, err := a.tuner.UploadTrainingFile(ctx, filepath.Base(args[0]), content)
			if err != nil {
				return err
			}
			if a.archive != nil {
				key := archive.Key(file.ID, time.Now())
				if err := archive.PutBytes(ctx, a.archive, key, content); err != nil {
					a.logger.Warn("archive corpus failed", zap.String("file_id", file.ID), zap.Error(err))
				}
			}
			return printJSON(cmd.OutOrStdout(), file)
		},
	}

	cmd.AddCommand(validateCmd, uploadCmd)
	return cmd
}

func parseHyperFlag(name, raw string) (*model.HyperValue, error) {
	if raw == "" {
		return nil, nil
	}
	v := &model.HyperValue{}
	if err := v.UnmarshalJSON([]byte(strconv.Quote(raw))); err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return v, nil
}

func newJobsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "manage fine-tuning jobs",
	}

	// withClient runs fn against a fine-tuning client and prints its result.
	withClient := func(fn func(ctx context.Context, c *finetune.Client, args []string) (interface{}, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer a.logger.Sync()
			ctx, stop := commandContext()
			defer stop()
			result, err := fn(ctx, a.tuner, args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}
	}

	var page model.ListParams
	addPageFlags := func(c *cobra.Command) {
		c.Flags().StringVar(&page.After, "after", "", "cursor from a previous page")
		c.Flags().IntVar(&page.Limit, "limit", 0, "page size")
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list fine-tuning jobs",
		RunE: withClient(func(ctx context.Context, c *finetune.Client, args []string) (interface{}, error) {
			return c.List(ctx, page)
		}),
	}
	addPageFlags(listCmd)

	getCmd := &cobra.Command{
		Use:   "get JOB_ID",
		Short: "show one fine-tuning job",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *finetune.Client, args []string) (interface{}, error) {
			return c.Retrieve(ctx, args[0])
		}),
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "cancel a fine-tuning job",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *finetune.Client, args []string) (interface{}, error) {
			return c.Cancel(ctx, args[0])
		}),
	}

	eventsCmd := &cobra.Command{
		Use:   "events JOB_ID",
		Short: "list events of a fine-tuning job",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *finetune.Client, args []string) (interface{}, error) {
			return c.ListEvents(ctx, args[0], page)
		}),
	}
	addPageFlags(eventsCmd)

	checkpointsCmd := &cobra.Command{
		Use:   "checkpoints JOB_ID",
		Short: "list checkpoints of a fine-tuning job",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *finetune.Client, args []string) (interface{}, error) {
			return c.ListCheckpoints(ctx, args[0], page)
		}),
	}
	addPageFlags(checkpointsCmd)

	var (
		in                         finetune.CreateJobInput
		epochs, batchSize, lrScale string
		seed                       int64
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "create a fine-tuning job",
		RunE: withClient(func(ctx context.Context, c *finetune.Client, args []string) (interface{}, error) {
			var hp model.Hyperparameters
			var err error
			if hp.NEpochs, err = parseHyperFlag("epochs", epochs); err != nil {
				return nil, err
			}
			if hp.BatchSize, err = parseHyperFlag("batch-size", batchSize); err != nil {
				return nil, err
			}
			if hp.LearningRateMultiplier, err = parseHyperFlag("lr-multiplier", lrScale); err != nil {
				return nil, err
			}
			in.Hyperparameters = &hp
			if seed != 0 {
				in.Seed = &seed
			}
			return c.Create(ctx, in)
		}),
	}
	createCmd.Flags().StringVar(&in.Model, "model", "", "base model")
	createCmd.Flags().StringVar(&in.TrainingFile, "training-file", "", "uploaded training file id")
	createCmd.Flags().StringVar(&in.ValidationFile, "validation-file", "", "uploaded validation file id")
	createCmd.Flags().StringVar(&in.Suffix, "suffix", "", "fine-tuned model name suffix")
	createCmd.Flags().Int64Var(&seed, "seed", 0, "training seed, provider picks one when 0")
	createCmd.Flags().StringVar(&epochs, "epochs", "", "n_epochs: auto or a number")
	createCmd.Flags().StringVar(&batchSize, "batch-size", "", "batch_size: auto or a number")
	createCmd.Flags().StringVar(&lrScale, "lr-multiplier", "", "learning_rate_multiplier: auto or a number")

	cmd.AddCommand(listCmd, getCmd, cancelCmd, eventsCmd, checkpointsCmd, createCmd)
	return cmd
}
