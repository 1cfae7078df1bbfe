package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/hookcron/internal/app"
	"github.com/foxzi/hookcron/internal/config"
	"github.com/foxzi/hookcron/internal/models"
	"github.com/foxzi/hookcron/internal/schedule"
	"github.com/foxzi/hookcron/internal/store"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Job management commands",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobList,
}

var jobShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a job and its recent fires",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobShow,
}

var jobPauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "Pause a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobStatus(args[0], schedule.StatusPaused)
	},
}

var jobResumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobStatus(args[0], schedule.StatusActive)
	},
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a job and its fire history",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobDelete,
}

var jobPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete fire history older than a given age",
	RunE:  runJobPrune,
}

var (
	jobUser      string
	jobStatus    string
	jobFreq      string
	jobLimit     int
	jobFires     int
	jobOlderThan time.Duration
)

func init() {
	jobListCmd.Flags().StringVar(&jobUser, "user", "", "Filter by owner (API key name)")
	jobListCmd.Flags().StringVar(&jobStatus, "status", "", "Filter by status (active, inactive, paused)")
	jobListCmd.Flags().StringVar(&jobFreq, "freq", "", "Filter by frequency (daily, recurring, custom)")
	jobListCmd.Flags().IntVar(&jobLimit, "limit", 100, "Maximum number of jobs to list")

	jobShowCmd.Flags().IntVar(&jobFires, "fires", 10, "Number of recent fires to show")

	jobPruneCmd.Flags().DurationVar(&jobOlderThan, "older-than", 30*24*time.Hour, "Delete fires older than this age")

	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobPauseCmd)
	jobCmd.AddCommand(jobResumeCmd)
	jobCmd.AddCommand(jobDeleteCmd)
	jobCmd.AddCommand(jobPruneCmd)
}

func openStore() (store.Store, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return app.OpenStore(cfg.Database)
}

func runJobList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	jobs, total, err := s.List(context.Background(), models.JobListFilter{
		UserID: jobUser,
		Status: jobStatus,
		Freq:   jobFreq,
		Limit:  jobLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOWNER\tSTATUS\tSCHEDULE\tLAST TRIGGERED\tCALLS")
	for i := range jobs {
		j := &jobs[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			j.ID, j.UserID, j.Status, describe(j), formatTime(j.LastTriggered), j.FireCount)
	}
	w.Flush()

	if total > len(jobs) {
		fmt.Printf("\nShowing %d of %d jobs\n", len(jobs), total)
	}
	return nil
}

func runJobShow(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	job, err := s.GetByID(ctx, args[0])
	if err != nil {
		return jobError(args[0], err)
	}

	fmt.Printf("ID:             %s\n", job.ID)
	fmt.Printf("Owner:          %s\n", job.UserID)
	fmt.Printf("Status:         %s\n", job.Status)
	fmt.Printf("Schedule:       %s\n", describe(job))
	fmt.Printf("Callback URL:   %s\n", job.CallbackURL)
	fmt.Printf("Last triggered: %s\n", formatTime(job.LastTriggered))
	fmt.Printf("Calls:          %d\n", job.FireCount)
	fmt.Printf("Created:        %s\n", job.CreatedAt.Format(time.RFC3339))
	if len(job.Metadata) > 0 {
		md, _ := json.Marshal(job.Metadata)
		fmt.Printf("Metadata:       %s\n", md)
	}

	fires, err := s.ListFires(ctx, job.ID, jobFires)
	if err != nil {
		return fmt.Errorf("failed to list fires: %w", err)
	}
	if len(fires) == 0 {
		return nil
	}

	fmt.Println("\nRecent fires:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIRED AT\tSUCCESS\tSTATUS\tADVANCED\tERROR")
	for _, f := range fires {
		status := "-"
		if f.StatusCode != 0 {
			status = fmt.Sprint(f.StatusCode)
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%v\t%s\n", f.FiredAt.Format(time.RFC3339), f.Success, status, f.Advanced, f.Error)
	}
	return w.Flush()
}

func setJobStatus(id string, status schedule.Status) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.UpdateStatus(context.Background(), id, string(status)); err != nil {
		return jobError(id, err)
	}

	fmt.Printf("Job %s is now %s\n", id, status)
	return nil
}

func runJobDelete(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Delete(context.Background(), args[0]); err != nil {
		return jobError(args[0], err)
	}

	fmt.Printf("Job %s deleted\n", args[0])
	return nil
}

func runJobPrune(cmd *cobra.Command, args []string) error {
	if jobOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	cutoff := time.Now().UTC().Add(-jobOlderThan)
	n, err := s.PruneFires(context.Background(), cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune fires: %w", err)
	}

	fmt.Printf("Deleted %d fires before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}

func jobError(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("job %s not found", id)
	}
	return err
}

func describe(j *models.Job) string {
	if j.Spec == nil {
		return "(invalid definition)"
	}
	return schedule.Describe(j.Spec)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
