package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/reelsmith/internal/job"
	"github.com/maauso/reelsmith/internal/render"
)

const stampLayout = "2006-01-02 15:04:05"

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the persistent job store",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobStore(ctx, func(repo *job.SQLiteRepository) error {
				jobs, err := repo.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				want := job.Status(strings.ToUpper(strings.TrimSpace(status)))

				rows := make([][]string, 0, len(jobs))
				for _, j := range jobs {
					if want != "" && j.Status != want {
						continue
					}
					rows = append(rows, []string{
						j.ID,
						string(j.Type),
						string(j.Status),
						fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
						j.CreatedAt.Local().Format(stampLayout),
						string(render.KindOfMessage(j.Error)),
					})
				}
				out := cmd.OutOrStdout()
				if len(rows) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Type", "Status", "Attempts", "Created", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to read")
	cmd.Flags().StringVar(&status, "status", "", "Only show jobs in this status")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobStore(ctx, func(repo *job.SQLiteRepository) error {
				j, err := repo.FindByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				rows := [][]string{
					{"ID", j.ID},
					{"Type", string(j.Type)},
					{"Status", string(j.Status)},
					{"Attempts", strconv.Itoa(j.Attempts) + "/" + strconv.Itoa(j.MaxAttempts)},
					{"Created", j.CreatedAt.Local().Format(stampLayout)},
					{"Updated", j.UpdatedAt.Local().Format(stampLayout)},
				}
				if !j.CompletedAt.IsZero() {
					rows = append(rows, []string{"Completed", j.CompletedAt.Local().Format(stampLayout)})
				}
				if res, err := render.DecodeResult(j); err == nil && res != nil {
					rows = append(rows,
						[]string{"URL", res.URL},
						[]string{"Duration", strconv.FormatFloat(res.Duration, 'f', 3, 64) + "s"},
					)
				}
				if j.Error != "" {
					rows = append(rows,
						[]string{"Code", string(render.KindOfMessage(j.Error))},
						[]string{"Error", j.Error},
					)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
				return nil
			})
		},
	}
}

func withJobStore(ctx *commandContext, fn func(*job.SQLiteRepository) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if cfg.JobDBPath == "" {
		return errors.New("job store is in memory; set JOB_DB_PATH to inspect jobs")
	}
	repo, err := job.OpenSQLite(cfg.JobDBPath)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	return fn(repo)
}
