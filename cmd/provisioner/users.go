package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

var usersStatus string

func init() {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the local user store used by --source sqlite",
	}

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import users from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE:  runUsersImport,
	}
	usersCmd.AddCommand(importCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List users in the local store",
		RunE:  runUsersList,
	}
	listCmd.Flags().StringVar(&usersStatus, "status", "", "filter by status (approved, in_progress, finished, error_reverted)")
	usersCmd.AddCommand(listCmd)

	rootCmd.AddCommand(usersCmd)
}

func runUsersImport(cmd *cobra.Command, args []string) error {
	s, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := s.ImportUsers(cmd.Context(), f)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d users\n", n)
	return nil
}

func runUsersList(cmd *cobra.Command, args []string) error {
	var status domain.LifecycleStatus
	if usersStatus != "" {
		st, ok := domain.ParseLifecycleStatus(usersStatus)
		if !ok {
			return fmt.Errorf("unknown status %q", usersStatus)
		}
		status = st
	}

	s, err := openHistory()
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.ListUsers(cmd.Context(), status)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Println("No users")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tNAME\tSTATUS")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Title, u.DisplayName(), u.Status)
	}
	return w.Flush()
}
