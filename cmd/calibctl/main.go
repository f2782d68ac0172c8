// Command calibctl drives a running colocated over its operator API and
// inspects round journals and transport captures offline.
package main

import (
	"os"

	"github.com/banshee-data/colocate/cmd/calibctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
