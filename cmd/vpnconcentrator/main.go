// Command vpnconcentrator terminates DTLS tunnels, allocates private
// addresses from a configured pool, and bridges IP traffic between peers
// and a kernel TUN device.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "vpnconcentrator",
		Short: "DTLS-terminating VPN concentrator",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newStatusCommand())

	if err := root.Execute(); err != nil {
		log.SetOutput(os.Stderr)
		log.Fatal(err)
	}
}
