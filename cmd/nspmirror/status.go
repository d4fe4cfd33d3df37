package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/datastore"
)

// Status summarizes the store.
type status struct {
	// State is only known to a running server.
	State     string         `json:"state,omitempty"`
	Records   int            `json:"records"`
	LatestRun *datastore.Run `json:"latest_run,omitempty"`
}

func loadStatus(ctx context.Context, s datastore.Store) (*status, error) {
	n, err := s.Count(ctx, nspmirror.SourceNSP)
	if err != nil {
		return nil, err
	}
	r, err := s.LatestRun(ctx)
	if err != nil {
		return nil, err
	}
	return &status{Records: n, LatestRun: r}, nil
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the number of mirrored records and the latest run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, _, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			st, err := loadStatus(ctx, s)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			return st.writeText(cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (st *status) writeText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "records:\t%d\n", st.Records)
	if r := st.LatestRun; r != nil {
		fmt.Fprintf(tw, "latest run:\t%s\n", r.Ref)
		fmt.Fprintf(tw, "  state:\t%s\n", r.State)
		fmt.Fprintf(tw, "  started:\t%s\n", r.Started.Format(time.RFC3339))
		if !r.Finished.IsZero() {
			fmt.Fprintf(tw, "  finished:\t%s\n", r.Finished.Format(time.RFC3339))
		}
		fmt.Fprintf(tw, "  pages:\t%d\n", r.Pages)
		fmt.Fprintf(tw, "  advisories:\t%d\n", r.Advisories)
		if r.Error != "" {
			fmt.Fprintf(tw, "  error:\t%s\n", r.Error)
		}
	} else {
		fmt.Fprintln(tw, "latest run:\tnever")
	}
	return tw.Flush()
}
