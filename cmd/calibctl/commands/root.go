package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/colocate/internal/api"
	"github.com/banshee-data/colocate/internal/httputil"
)

type options struct {
	addr    string
	timeout time.Duration
	asJSON  bool
	client  *api.Client
}

// Execute runs calibctl with the process arguments.
func Execute() error {
	return newRoot(os.Stdout, nil).Execute()
}

// newRoot builds the command tree. A nil hc uses the standard HTTP client.
func newRoot(out io.Writer, hc httputil.HTTPClient) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:          "calibctl",
		Short:        "Operate and inspect colocate calibration sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c := hc
			if c == nil {
				c = httputil.NewStandardClient(nil)
			}
			o.client = api.NewClient(o.addr, c)
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&o.addr, "addr", "http://127.0.0.1:8080", "colocated operator API base URL")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 5*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&o.asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(
		stateCmd(o), peersCmd(o), roleCmd(o), selectCmd(o),
		captureCmd(o), sendCmd(o), greetCmd(o), chatCmd(o),
		clearCmd(o), restartCmd(o),
		roundsCmd(o), plotCmd(o),
		pcapCmd(o), decodeCmd(o),
		versionCmd(),
	)
	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printf ignores write errors on the command output.
func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
