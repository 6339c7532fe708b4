package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/storage"
)

func newStudentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "student",
		Short: "Manage students in the local registry",
	}

	var (
		roll    string
		name    string
		email   string
		classes []string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a student",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *storage.Store) error {
				st, err := store.AddStudent(cmd.Context(), storage.NewStudent{RollNumber: roll, Name: name, Email: email})
				if err != nil {
					return err
				}
				for _, code := range classes {
					if err := store.EnrollInClass(cmd.Context(), st.ID, code); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added student %d (%s)\n", st.ID, st.RollNumber)
				return nil
			})
		},
	}
	add.Flags().StringVar(&roll, "roll", "", "Roll number")
	add.Flags().StringVar(&name, "name", "", "Full name")
	add.Flags().StringVar(&email, "email", "", "Email address")
	add.Flags().StringSliceVar(&classes, "class", nil, "Class code to enroll in (repeatable)")
	_ = add.MarkFlagRequired("roll")
	_ = add.MarkFlagRequired("name")

	var registeredOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List students",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *storage.Store) error {
				var (
					students []storage.Student
					err      error
				)
				if registeredOnly {
					students, err = store.Registered(cmd.Context())
				} else {
					students, err = store.ListStudents(cmd.Context())
				}
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tROLL\tNAME\tTEMPLATE\tCLASSES")
				for _, st := range students {
					tmpl := "-"
					if st.FingerprintID != nil {
						tmpl = strconv.Itoa(*st.FingerprintID)
					}
					classes, err := store.Classes(cmd.Context(), st.ID)
					if err != nil {
						return err
					}
					joined := "-"
					if len(classes) > 0 {
						joined = strings.Join(classes, ",")
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", st.ID, st.RollNumber, st.Name, tmpl, joined)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().BoolVar(&registeredOnly, "registered", false, "Only students with a fingerprint")

	var (
		classStudent int64
		classCode    string
	)
	class := &cobra.Command{
		Use:   "class",
		Short: "Enroll a student in a class",
		RunE: func(cmd *cobra.Command, args []string) error {
			if classStudent <= 0 {
				return errors.New("--id is required")
			}
			return withStore(func(store *storage.Store) error {
				if err := store.EnrollInClass(cmd.Context(), classStudent, classCode); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "student %d enrolled in %s\n", classStudent, classCode)
				return nil
			})
		},
	}
	class.Flags().Int64Var(&classStudent, "id", 0, "Student id")
	class.Flags().StringVar(&classCode, "class", "", "Class code")
	_ = class.MarkFlagRequired("class")

	cmd.AddCommand(add, list, class)
	return cmd
}

func withStore(fn func(store *storage.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
