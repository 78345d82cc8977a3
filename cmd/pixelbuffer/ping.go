package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/server"

	"github.com/spf13/cobra"
)

func newPingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping <service url>",
		Short: "Check a running service through its OPTIONS descriptor",
		Long: `ping sends OPTIONS requests to the root of a running pixelbuffer service as a
heartbeat, e.g., "pixelbuffer ping --count 0 --interval 10s http://localhost:8080".
A count of zero pings until the service fails to answer.`,
		Args: cobra.ExactArgs(1),
		RunE: ping,
	}
	cmd.Flags().Int("count", 1, "number of pings, zero for no limit")
	cmd.Flags().Duration("interval", 5*time.Second, "pause between pings")
	cmd.Flags().Duration("timeout", 5*time.Second, "timeout of each ping")
	return cmd
}

func ping(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	interval, _ := cmd.Flags().GetDuration("interval")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	url := strings.TrimSuffix(args[0], "/") + "/"
	client := &http.Client{Timeout: timeout}

	for i := 0; count == 0 || i < count; i++ {
		if i > 0 {
			time.Sleep(interval)
		}
		desc, err := describe(client, url)
		if err != nil {
			return fmt.Errorf("%s: %v", time.Now().Format(time.RFC3339), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", url, desc.Provider, desc.Version)
	}
	return nil
}

func describe(client *http.Client, url string) (server.Descriptor, error) {
	var desc server.Descriptor
	req, err := http.NewRequest(http.MethodOptions, url, nil)
	if err != nil {
		return desc, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return desc, fmt.Errorf("error on OPTIONS of %q: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return desc, fmt.Errorf("bad response to OPTIONS of %q: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return desc, fmt.Errorf("bad descriptor from %q: %v", url, err)
	}
	return desc, nil
}
