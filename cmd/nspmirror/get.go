package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quay/nspmirror"
)

func newGetCmd(a *app) *cobra.Command {
	var ver string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a mirrored advisory",
		Long: `get prints the stored record for the advisory id as JSON.

With --affects, it instead reports whether that version of the affected
package falls inside the advisory's vulnerable range.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, _, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			v, err := s.Get(ctx, nspmirror.SourceNSP, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ver != "" {
				ok, err := v.Affects(ver)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintf(out, "%s@%s is affected by %s\n", v.SubTitle, ver, v.Key())
				} else {
					fmt.Fprintf(out, "%s@%s is not affected by %s\n", v.SubTitle, ver, v.Key())
				}
				return nil
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(newRecord(v))
		},
	}
	cmd.Flags().StringVar(&ver, "affects", "", "check whether this package version is affected")
	return cmd
}

// Record is the presentation of a stored advisory.
type record struct {
	*nspmirror.Vulnerability
	Severity *nspmirror.Severity `json:"severity"`
}

func newRecord(v *nspmirror.Vulnerability) *record {
	sev := v.Severity()
	return &record{Vulnerability: v, Severity: &sev}
}
