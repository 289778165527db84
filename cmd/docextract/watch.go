package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/ingest"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var (
		dirs         []string
		exts         []string
		schema       string
		model        string
		instructions string
		initialScan  bool
		debounce     time.Duration
		workers      int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch directories and extract new or changed documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(dirs) == 0 {
				return errors.New("--dir is required")
			}
			cfg, logger := flags.loadConfig("text")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, wireOptions{requireLLM: true})
			if err != nil {
				return err
			}
			defer a.close()
			a.sessions.StartJanitor(ctx)

			queue := async.NewDocumentQueue(a.svc, pipeline.SubmitRequest{
				SchemaKey:    schema,
				Instructions: instructions,
				ModelID:      model,
			}, logger, async.WithWorkers(workers), async.WithQueueSize(512))

			paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
				Roots:       dirs,
				AllowedExts: ingest.ParseExts(exts),
				InitialScan: initialScan,
				Debounce:    debounce,
				SkipHidden:  true,
				Logger:      logger,
			})
			if err != nil {
				return err
			}

		loop:
			for {
				select {
				case p, ok := <-paths:
					if !ok {
						break loop
					}
					if err := queue.Enqueue(ctx, async.NewJob(p)); err != nil {
						logger.Warn("watch.enqueue.failed", "path", p, "error", err)
					}
				case err, ok := <-errs:
					if ok {
						logger.Warn("watch.error", "error", err)
					}
				case <-ctx.Done():
					break loop
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			queue.Shutdown(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "directory to watch (repeatable)")
	cmd.Flags().StringSliceVar(&exts, "ext", []string{"md", "markdown", "txt"}, "extensions to pick up")
	cmd.Flags().StringVar(&schema, "schema", "receipt", "schema key")
	cmd.Flags().StringVar(&model, "model", "", "model id (default LLM_MODEL)")
	cmd.Flags().StringVar(&instructions, "instructions", "", "extra extraction instructions")
	cmd.Flags().BoolVar(&initialScan, "initial-scan", false, "also process files already present")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a changed file is submitted")
	cmd.Flags().IntVar(&workers, "workers", 2, "concurrent single-file runs")
	return cmd
}
