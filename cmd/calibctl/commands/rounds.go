package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/colocate/internal/journal"
)

// loadRounds reads from a journal file when path is set and from the daemon
// otherwise.
func (o *options) loadRounds(ctx context.Context, path string, limit int) ([]journal.Round, error) {
	if path == "" {
		return o.client.Rounds(ctx, limit)
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, err
	}
	defer j.Close()
	return j.Rounds(ctx, limit)
}

func roundsCmd(o *options) *cobra.Command {
	var (
		path  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "rounds",
		Short: "List recorded calibration rounds, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.requestContext(cmd)
			defer cancel()
			rounds, err := o.loadRounds(ctx, path, limit)
			if err != nil {
				return err
			}
			if o.asJSON {
				return printJSON(cmd.OutOrStdout(), rounds)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROUND\tRECORDED\tPEER\tROLE\tDT(ms)\tLOCAL L\tREMOTE L")
			for _, r := range rounds {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%v\t%v\n",
					r.Round, r.RecordedAt.Format("2006-01-02 15:04:05"), r.PeerName, r.Role,
					r.Remote.UnixTime-r.Local.UnixTime, r.Local.Left.Position(), r.Remote.Left.Position())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&path, "journal", "", "read this journal file instead of asking the daemon")
	cmd.Flags().IntVar(&limit, "limit", journal.DefaultLimit, "maximum rounds to list")
	return cmd
}

func plotCmd(o *options) *cobra.Command {
	var (
		path  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "plot <out.png>",
		Short: "Plot local and remote fingertips of recorded rounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.requestContext(cmd)
			defer cancel()
			rounds, err := o.loadRounds(ctx, path, limit)
			if err != nil {
				return err
			}
			if err := journal.RenderPlot(rounds, args[0]); err != nil {
				return err
			}
			printf(cmd, "wrote %d rounds to %s\n", len(rounds), args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "journal", "", "read this journal file instead of asking the daemon")
	cmd.Flags().IntVar(&limit, "limit", journal.DefaultLimit, "maximum rounds to plot")
	return cmd
}
