package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"scholars-backend/models"
	"scholars-backend/results"
)

var (
	seedFile        string
	seedCompetition string
)

var seedCmd = &cobra.Command{
	Use:   "seed-registrations",
	Short: "Load a registration roster from a CSV with id, email and name columns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		regs, err := readRoster(seedFile)
		if err != nil {
			return err
		}

		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if err := e.svc.Repo.SeedRegistrations(cmd.Context(), seedCompetition, regs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d registrations for %s\n", len(regs), seedCompetition)
		return nil
	},
}

func readRoster(path string) ([]results.Registration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rr, err := results.Ingest(f, results.Format{Header: results.HeaderPresent})
	if err != nil {
		return nil, err
	}
	lookup := func(row results.RawRow, names ...string) string {
		for _, h := range row.Headers {
			for _, n := range names {
				if strings.EqualFold(strings.TrimSpace(h), n) {
					v, _ := row.Get(h)
					return strings.TrimSpace(v)
				}
			}
		}
		return ""
	}

	var regs []results.Registration
	for {
		row, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return regs, nil
		}
		if err != nil {
			return nil, err
		}
		reg := results.Registration{
			ID:    lookup(row, "id", "registration_id", "registration id"),
			Email: lookup(row, "email", "participant_email"),
			Name:  lookup(row, "name", "full name"),
		}
		if reg.ID == "" {
			return nil, fmt.Errorf("line %d: registration id is empty", row.Line)
		}
		regs = append(regs, reg)
	}
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin accounts",
}

var (
	adminEmail    string
	adminPassword string
)

var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an admin account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if len(adminPassword) < 12 {
			return fmt.Errorf("--password must be at least 12 characters")
		}
		e, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		hash, err := models.HashPassword(adminPassword, bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user, err := models.NewPostgresAdminStore(e.svc.DB).Create(cmd.Context(), strings.ToLower(adminEmail), hash)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s\n", user.Email)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "Roster CSV")
	seedCmd.Flags().StringVar(&seedCompetition, "competition", "", "Competition id")
	_ = seedCmd.MarkFlagRequired("file")
	_ = seedCmd.MarkFlagRequired("competition")

	adminCreateCmd.Flags().StringVar(&adminEmail, "email", "", "Admin email")
	adminCreateCmd.Flags().StringVar(&adminPassword, "password", "", "Admin password")
	_ = adminCreateCmd.MarkFlagRequired("email")
	_ = adminCreateCmd.MarkFlagRequired("password")
	adminCmd.AddCommand(adminCreateCmd)
}
