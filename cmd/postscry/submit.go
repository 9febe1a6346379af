package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/postscry/internal/content"
	"github.com/copyleftdev/postscry/internal/mcp"
	"github.com/copyleftdev/postscry/internal/tasks"
	"github.com/copyleftdev/postscry/internal/taskstypes"
)

func newSubmitJSONCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "submit-json FILE",
		Short: "Publish the entries of a JSON file without starting the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			entries, err := content.ParseEntries(raw)
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Browser.ShutdownTimeout)
				defer cancel()
				if err := a.shutdown(ctx); err != nil {
					logger.Warn("Shutdown incomplete", zap.Error(err))
				}
			}()

			out := cmd.OutOrStdout()
			if dryRun {
				for i, e := range entries {
					p, err := a.tasks.Preview(tasks.FromEntry(e))
					if err != nil {
						fmt.Fprintf(out, "#%d: %v\n", i, err)
						continue
					}
					fmt.Fprintf(out, "#%d: %q topics=%v media=%d image_note=%t\n", i, p.Title, p.Topics, len(p.Plan.Entries), p.ImageNote)
				}
				return nil
			}

			var ids []uuid.UUID
			for i, e := range entries {
				id, err := a.tasks.Submit(tasks.FromEntry(e))
				if err != nil {
					logger.Warn("Entry skipped", zap.Int("index", i), zap.Error(err))
					continue
				}
				ids = append(ids, id)
			}

			failed := 0
			for _, id := range ids {
				task, err := waitTask(cmd.Context(), a.tasks, id)
				if err != nil {
					return err
				}
				if task.Status != taskstypes.StatusSucceeded {
					failed++
				}
				msg, err := mcp.FormatTask(task)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(msg))
			}
			if failed > 0 || len(ids) < len(entries) {
				return fmt.Errorf("%d of %d entries were not published", failed+len(entries)-len(ids), len(entries))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the derived title, topics and media without publishing")
	return cmd
}

func waitTask(ctx context.Context, m *tasks.Manager, id uuid.UUID) (*taskstypes.Task, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		task, err := m.Get(id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
