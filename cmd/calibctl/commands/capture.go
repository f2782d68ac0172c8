package commands

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/wire"
)

// describe renders a payload the way the operator reads it.
func describe(m wire.Message) string {
	switch m.Kind {
	case wire.KindGreeting, wire.KindChatText:
		return fmt.Sprintf("%s %q", m.Kind, m.Text)
	case wire.KindSingleFinger:
		return fmt.Sprintf("%s t=%d right=%v", m.Kind, m.Single.UnixTime, m.Single.Right.Position())
	case wire.KindDualFinger:
		return fmt.Sprintf("%s t=%d left=%v right=%v", m.Kind, m.Dual.UnixTime, m.Dual.Left.Position(), m.Dual.Right.Position())
	}
	return m.Kind.String()
}

type datagramView struct {
	transport.Datagram
	Message *wire.Message `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func viewOf(d transport.Datagram) datagramView {
	v := datagramView{Datagram: d}
	if d.Type != "data" {
		return v
	}
	m, err := wire.Decode(d.Payload)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.Message = &m
	return v
}

func (o *options) printDatagram(cmd *cobra.Command, v datagramView) error {
	if o.asJSON {
		return printJSON(cmd.OutOrStdout(), v)
	}
	line := fmt.Sprintf("%-8s %s", v.Type, v.Name)
	if !v.Time.IsZero() {
		line = fmt.Sprintf("%s %s -> %s %s", v.Time.Format("15:04:05.000"), v.Src, v.Dst, line)
	}
	switch {
	case v.Message != nil:
		line += " " + describe(*v.Message)
	case v.Error != "":
		line += " undecodable: " + v.Error
	}
	printf(cmd, "%s\n", line)
	return nil
}

func pcapCmd(o *options) *cobra.Command {
	var dataOnly bool
	cmd := &cobra.Command{
		Use:   "pcap <file>",
		Short: "Decode the session frames in a transport capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return transport.ReadCapture(f, func(d transport.Datagram) error {
				if dataOnly && d.Type != "data" {
					return nil
				}
				return o.printDatagram(cmd, viewOf(d))
			})
		},
	}
	cmd.Flags().BoolVar(&dataOnly, "data", false, "only show data frames")
	return cmd
}

func decodeCmd(o *options) *cobra.Command {
	var frame bool
	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a hex encoded payload, or a whole frame with --frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := hex.DecodeString(strings.Join(strings.Fields(args[0]), ""))
			if err != nil {
				return fmt.Errorf("invalid hex: %w", err)
			}
			if frame {
				d, err := transport.DecodeDatagram(b)
				if err != nil {
					return err
				}
				return o.printDatagram(cmd, viewOf(d))
			}
			m, err := wire.Decode(b)
			if err != nil {
				return err
			}
			if o.asJSON {
				return printJSON(cmd.OutOrStdout(), m)
			}
			printf(cmd, "%s\n", describe(m))
			return nil
		},
	}
	cmd.Flags().BoolVar(&frame, "frame", false, "input is a transport frame rather than a payload")
	return cmd
}
