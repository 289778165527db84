package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/convert"
	"github.com/joseph-ayodele/docextract/internal/ingest"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/stream"
)

type runFlags struct {
	schema       string
	model        string
	instructions string
	dir          string
	exts         []string
	skipHidden   bool
	inmem        bool
	out          string
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Extract a batch of documents and stream events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rf.dir == "" && len(args) == 0 {
				return errors.New("pass files or --dir")
			}
			cfg, logger := flags.loadConfig("text")

			docs, err := collect(rf, args)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no documents found")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, wireOptions{requireLLM: true, inMemory: rf.inmem})
			if err != nil {
				return err
			}
			defer a.close()

			h, err := a.svc.SubmitRun(ctx, pipeline.SubmitRequest{
				SchemaKey:    rf.schema,
				Instructions: rf.instructions,
				ModelID:      rf.model,
				Files:        docs,
			})
			if err != nil {
				return err
			}
			logger.Info("run submitted", "run_id", h.Run.ID, "session_id", h.SessionID, "files", len(docs))

			last, err := printEvents(cmd, h.Run.Events())
			if err != nil {
				return err
			}
			if last.Type == constants.EventError {
				p, _ := last.Payload.(stream.ErrorPayload)
				return fmt.Errorf("run failed: %s: %s", p.Code, p.Message)
			}
			if last.Type != constants.EventComplete {
				return fmt.Errorf("run %s did not complete", h.Run.ID)
			}

			if rf.out != "" {
				xlsx, err := a.exporter.ExportVersionsXLSX(ctx, h.SessionID, h.VersionNumber)
				if err != nil {
					return err
				}
				if err := os.WriteFile(rf.out, xlsx, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", rf.out, err)
				}
				logger.Info("export written", "path", rf.out, "session_id", h.SessionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rf.schema, "schema", "receipt", "schema key")
	cmd.Flags().StringVar(&rf.model, "model", "", "model id (default LLM_MODEL)")
	cmd.Flags().StringVar(&rf.instructions, "instructions", "", "extra extraction instructions")
	cmd.Flags().StringVar(&rf.dir, "dir", "", "directory to collect documents from")
	cmd.Flags().StringSliceVar(&rf.exts, "ext", nil, "extensions to collect with --dir (default md,markdown,txt,pdf,docx,html)")
	cmd.Flags().BoolVar(&rf.skipHidden, "skip-hidden", true, "skip hidden files and directories")
	cmd.Flags().BoolVar(&rf.inmem, "inmem", false, "use in-memory SQLite database")
	cmd.Flags().StringVar(&rf.out, "out", "", "write an XLSX export of the results to this path")
	return cmd
}

func collect(rf *runFlags, args []string) ([]convert.Document, error) {
	var docs []convert.Document
	if rf.dir != "" {
		found, stats, err := ingest.CollectDocuments(rf.dir, ingest.ParseExts(rf.exts), rf.skipHidden)
		if err != nil {
			return nil, err
		}
		if stats.Failed > 0 {
			printError("Warning: %d entries under %s could not be read\n", stats.Failed, rf.dir)
		}
		docs = append(docs, found...)
	}
	for _, p := range args {
		doc, err := ingest.ReadDocument(filepath.Clean(p))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// printEvents writes each event as one JSON line and returns the last one.
func printEvents(cmd *cobra.Command, events <-chan stream.Event) (stream.Event, error) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	var last stream.Event
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return last, err
		}
		last = ev
	}
	return last, nil
}
