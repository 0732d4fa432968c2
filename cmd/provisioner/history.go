package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
	"github.com/AlejoKrz/AutomatedUserCreation/internal/store"
)

var (
	historyUser    string
	historyOutcome string
	historyLimit   int
	historySince   time.Duration
	historyStuck   time.Duration
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded provisioning runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyUser, "user", "", "filter by request ID")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "filter by outcome (succeeded, failed, interrupted, skipped)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 30, "maximum runs to show")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only runs started within this duration, e.g. 24h")

	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the task results of one run",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	historyCmd.AddCommand(showCmd)

	stuckCmd := &cobra.Command{
		Use:   "stuck",
		Short: "List users whose latest run left them in progress",
		RunE:  runHistoryStuck,
	}
	stuckCmd.Flags().DurationVar(&historyStuck, "older-than", 2*time.Hour, "minimum age of the run")
	historyCmd.AddCommand(stuckCmd)

	rootCmd.AddCommand(historyCmd)
}

func openHistory() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cfg.General.DatabasePath)
}

func runHistory(cmd *cobra.Command, args []string) error {
	s, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	opts := store.ListOptions{
		UserID:  historyUser,
		Outcome: domain.RunOutcome(historyOutcome),
		Limit:   historyLimit,
	}
	if historySince > 0 {
		opts.Since = time.Now().Add(-historySince)
	}

	runs, err := s.ListRuns(cmd.Context(), opts)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tUSER\tNAME\tMODE\tOUTCOME\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID), r.UserID, r.UserName, r.Mode, r.Outcome, r.FinalStatus,
			humanize.Time(r.StartedAt), r.Duration().Round(time.Second))
	}
	return w.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	s, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", r.ID)
	fmt.Printf("User:     %s (%s)\n", r.UserName, r.UserID)
	fmt.Printf("Mode:     %s\n", r.Mode)
	fmt.Printf("Outcome:  %s, status left %s\n", r.Outcome, r.FinalStatus)
	fmt.Printf("Started:  %s (%s)\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	fmt.Printf("Duration: %s\n", r.Duration().Round(time.Second))
	if len(r.Results) == 0 {
		fmt.Println("No tasks ran")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nTASK\tRESULT\tTOOK\tMESSAGE")
	for _, res := range r.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", res.TaskID, res.Marker(), res.Duration.Round(time.Millisecond), res.Message)
	}
	return w.Flush()
}

func runHistoryStuck(cmd *cobra.Command, args []string) error {
	s, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	stuck, err := s.StuckUsers(cmd.Context(), time.Now().Add(-historyStuck))
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		fmt.Println("No users stuck in progress")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tNAME\tLAST RUN\tOUTCOME\tSTARTED")
	for _, u := range stuck {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.UserID, u.UserName, shortID(u.RunID), u.Outcome, humanize.Time(u.StartedAt))
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func containsTask(ids []domain.TaskID, id domain.TaskID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
