package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/miguelemosreverte/vpnconcentrator/internal/control"
)

func newStatusCommand() *cobra.Command {
	var controlAddr string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running concentrator's control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(controlAddr, asJSON)
		},
	}
	cmd.Flags().StringVar(&controlAddr, "control-addr", "127.0.0.1:9001", "control socket address")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON instead of a summary")
	return cmd
}

func runStatus(controlAddr string, asJSON bool) error {
	client := control.NewClient(controlAddr)

	resp, err := client.Call(control.MethodStatus, 3*time.Second)
	if err != nil {
		return fmt.Errorf("vpnconcentrator status: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("vpnconcentrator status: %s", resp.Error)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Result)
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		return err
	}
	var status control.StatusResult
	if err := json.Unmarshal(data, &status); err != nil {
		return err
	}

	fmt.Printf("tunnels:    %d\n", status.TunnelCount)
	fmt.Printf("addresses:  %d/%d in use\n", status.AddressesInUse, status.AddressCapacity)
	fmt.Printf("uptime:     %ds\n", status.UptimeSeconds)
	fmt.Printf("bytes in:   %d\n", status.BytesInTotal)
	fmt.Printf("bytes out:  %d\n", status.BytesOutTotal)
	return nil
}
