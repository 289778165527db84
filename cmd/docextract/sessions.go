package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func parseSessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session id %q: %w", raw, err)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "versions SESSION_ID",
		Short: "List the versions of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			cfg, logger := flags.loadConfig("text")
			a, err := newApp(cmd.Context(), cfg, logger, wireOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			versions, err := a.svc.ListVersions(cmd.Context(), sid)
			if err != nil {
				return err
			}
			return printJSON(cmd, versions)
		},
	}
}

func newCompareCmd(flags *rootFlags) *cobra.Command {
	var (
		a, b   int
		fileID string
	)
	cmd := &cobra.Command{
		Use:   "compare SESSION_ID",
		Short: "Diff two versions of a session field by field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			var fid *uuid.UUID
			if fileID != "" {
				id, err := uuid.Parse(fileID)
				if err != nil {
					return fmt.Errorf("invalid --file: %w", err)
				}
				fid = &id
			}
			cfg, logger := flags.loadConfig("text")
			app, err := newApp(cmd.Context(), cfg, logger, wireOptions{})
			if err != nil {
				return err
			}
			defer app.close()

			diffs, err := app.svc.Compare(cmd.Context(), sid, a, b, fid)
			if err != nil {
				return err
			}
			return printJSON(cmd, diffs)
		},
	}
	cmd.Flags().IntVar(&a, "a", 1, "first version number")
	cmd.Flags().IntVar(&b, "b", 2, "second version number")
	cmd.Flags().StringVar(&fileID, "file", "", "restrict to one file id")
	return cmd
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		versions string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "export SESSION_ID",
		Short: "Write session versions to an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			var numbers []int
			for _, part := range strings.Split(versions, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid version %q", part)
				}
				numbers = append(numbers, n)
			}
			if out == "" {
				out = fmt.Sprintf("session-%s.xlsx", sid)
			}

			cfg, logger := flags.loadConfig("text")
			a, err := newApp(cmd.Context(), cfg, logger, wireOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			xlsx, err := a.exporter.ExportVersionsXLSX(cmd.Context(), sid, numbers...)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, xlsx, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&versions, "versions", "1,2", "comma-separated version numbers")
	cmd.Flags().StringVar(&out, "out", "", "output path (default session-<id>.xlsx)")
	return cmd
}
