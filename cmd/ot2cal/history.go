package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ot2-calibration/cmd"
	"ot2-calibration/internal/database"
)

func newHistoryCmd(a *app) *cobra.Command {
	f := &a.flags
	c := &cobra.Command{
		Use:   "history",
		Short: "List recent deployments",
		Args:  noArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return a.runHistory(c.Context())
		},
	}
	c.Flags().IntVar(&f.limit, "limit", 20, "number of deployments to show")
	c.Flags().BoolVar(&f.allHosts, "all-hosts", false, "ignore --host and list every robot")
	return c
}

func serials(d database.Deployment) string {
	var parts []string
	if d.LeftSerial != "" {
		parts = append(parts, "left="+d.LeftSerial)
	}
	if d.RightSerial != "" {
		parts = append(parts, "right="+d.RightSerial)
	}
	return strings.Join(parts, ",")
}

func (a *app) runHistory(ctx context.Context) error {
	if a.cfg.HistoryDisabled {
		return &cmd.UsageError{Err: errors.New("deployment history is disabled")}
	}

	db, err := database.NewDatabase(a.cfg.DatabaseURL, a.cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	host := a.cfg.Host
	if a.flags.allHosts {
		host = ""
	}
	deployments, err := database.ListDeployments(ctx, db, host, a.flags.limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tHOST\tTAG\tSTATUS\tSTATE\tPIPETTES\tDRY RUN")
	for _, d := range deployments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			d.CreationTime.UTC().Format("2006-01-02 15:04:05Z"), d.Host, d.Tag, d.Status, d.State, serials(d), d.DryRun)
	}
	return w.Flush()
}
