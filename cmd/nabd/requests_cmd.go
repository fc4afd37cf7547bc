package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nabd/blood-bot/internal/models"
)

var requestsCMD = &cobra.Command{
	Use:   "requests",
	Short: "inspect stored requests",
}

var requestsListCMD = &cobra.Command{
	Use:   "list",
	Short: "list stored requests, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx := context.Background()
		st, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		status, _ := cmd.Flags().GetString("status")
		return printRequests(os.Stdout, st.List(ctx), models.RequestStatus(status))
	},
}

func init() {
	requestsListCMD.Flags().String("status", "", "only show requests with this status")
	requestsCMD.AddCommand(requestsListCMD)
}

func printRequests(out io.Writer, list []models.BloodRequest, status models.RequestStatus) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSOURCE\tSTATUS\tURGENCY\tHOSPITAL\tBLOOD")
	for _, r := range list {
		if status != "" && r.Status != status {
			continue
		}
		urgency := "-"
		if r.Analysis != nil {
			urgency = string(r.Analysis.Urgency)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s ×%d\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.Source, r.Status,
			urgency, r.HospitalName, r.BloodType, r.TotalQuantity())
	}
	return w.Flush()
}
