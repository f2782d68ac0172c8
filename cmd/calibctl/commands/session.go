package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/colocate/internal/calibration"
)

func (o *options) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

// printState writes a snapshot as a short report or as JSON.
func (o *options) printState(cmd *cobra.Command, s calibration.Snapshot) error {
	if o.asJSON {
		return printJSON(cmd.OutOrStdout(), s)
	}
	printf(cmd, "self:   %s\n", s.Self)
	printf(cmd, "state:  %s\n", s.StateName)
	printf(cmd, "rounds: %d\n", s.Rounds)
	var fresh []string
	if s.SingleFresh {
		fresh = append(fresh, "single")
	}
	if s.DualFresh {
		fresh = append(fresh, "dual")
	}
	if len(fresh) > 0 {
		printf(cmd, "fresh:  %s\n", strings.Join(fresh, ","))
	}
	if len(s.Peers) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PEER\tID\tSTAGE\tCONNECTED\tTARGET\tFAILED")
	for _, p := range s.Peers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%t\n",
			p.Peer.DisplayName, p.Peer.ID, p.Stage, p.Connected, p.Target, p.Failed)
	}
	return tw.Flush()
}

// snapshotCmd builds a command that calls fn and prints the resulting state.
func snapshotCmd(o *options, use, short string, args cobra.PositionalArgs,
	fn func(ctx context.Context, args []string) (calibration.Snapshot, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.requestContext(cmd)
			defer cancel()
			s, err := fn(ctx, args)
			if err != nil {
				return err
			}
			return o.printState(cmd, s)
		},
	}
}

func stateCmd(o *options) *cobra.Command {
	return snapshotCmd(o, "state", "Show the calibration state", cobra.NoArgs,
		func(ctx context.Context, _ []string) (calibration.Snapshot, error) {
			return o.client.State(ctx)
		})
}

func peersCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List peers known to the transport",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.requestContext(cmd)
			defer cancel()
			peers, err := o.client.Peers(ctx)
			if err != nil {
				return err
			}
			if o.asJSON {
				return printJSON(cmd.OutOrStdout(), peers)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tID\tSTATE\tADDR\tLAST SEEN")
			for _, p := range peers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					p.Peer.DisplayName, p.Peer.ID, p.State, p.Addr, p.LastSeen.Format("15:04:05.000"))
			}
			return tw.Flush()
		},
	}
}

func roleCmd(o *options) *cobra.Command {
	return snapshotCmd(o, "role <host|client>", "Assign the local role", cobra.ExactArgs(1),
		func(ctx context.Context, args []string) (calibration.Snapshot, error) {
			return o.client.AssignRole(ctx, args[0])
		})
}

func selectCmd(o *options) *cobra.Command {
	return snapshotCmd(o, "select <peer-id>", "Add a connected peer to the targets", cobra.ExactArgs(1),
		func(ctx context.Context, args []string) (calibration.Snapshot, error) {
			return o.client.SelectPeer(ctx, args[0])
		})
}

func captureCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:       "capture <single|dual>",
		Short:     "Capture fingertip coordinates from the tracker",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"single", "dual"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.requestContext(cmd)
			defer cancel()
			switch args[0] {
			case "single":
				c, err := o.client.CaptureSingle(ctx)
				if err != nil {
					return err
				}
				if o.asJSON {
					return printJSON(cmd.OutOrStdout(), c)
				}
				printf(cmd, "single at %d: right %v\n", c.UnixTime, c.Right.Position())
			case "dual":
				c, err := o.client.CaptureDual(ctx)
				if err != nil {
					return err
				}
				if o.asJSON {
					return printJSON(cmd.OutOrStdout(), c)
				}
				printf(cmd, "dual at %d: left %v right %v\n", c.UnixTime, c.Left.Position(), c.Right.Position())
			default:
				return fmt.Errorf("unknown capture %q: want single or dual", args[0])
			}
			return nil
		},
	}
}

func sendCmd(o *options) *cobra.Command {
	return snapshotCmd(o, "send <single|dual>", "Send the last capture to the targets", cobra.ExactArgs(1),
		func(ctx context.Context, args []string) (calibration.Snapshot, error) {
			switch args[0] {
			case "single":
				return o.client.SendSingle(ctx)
			case "dual":
				return o.client.SendDual(ctx)
			}
			return calibration.Snapshot{}, fmt.Errorf("unknown send %q: want single or dual", args[0])
		})
}

func greetCmd(o *options) *cobra.Command {
	return snapshotCmd(o, "greet [text]", "Send a greeting to the targets", cobra.MaximumNArgs(1),
		func(ctx context.Context, args []string) (calibration.Snapshot, error) {
			text := ""
			if len(args) == 1 {
				text = args[0]
			}
			return o.client.SendGreeting(ctx, text)
		})
}

func chatCmd(o *options) *cobra.Command {
	return snapshotCmd(o, "chat <text>...", "Send a chat message to the targets", cobra.MinimumNArgs(1),
		func(ctx context.Context, args []string) (calibration.Snapshot, error) {
			return o.client.SendChat(ctx, strings.Join(args, " "))
		})
}

func clearCmd(o *options) *cobra.Command {
	return snapshotCmd(o, "clear <single|dual>", "Clear a freshness flag", cobra.ExactArgs(1),
		func(ctx context.Context, args []string) (calibration.Snapshot, error) {
			return o.client.ClearFresh(ctx, args[0])
		})
}

func restartCmd(o *options) *cobra.Command {
	return snapshotCmd(o, "restart", "Restart the handshake", cobra.NoArgs,
		func(ctx context.Context, _ []string) (calibration.Snapshot, error) {
			return o.client.Restart(ctx)
		})
}
