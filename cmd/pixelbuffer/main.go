// Command pixelbuffer serves tiles of OMERO images over HTTP and loads planes into
// its pixel store.
package main

import (
	"fmt"
	"os"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/server"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := newRootCommand()
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newImportCommand())
	rootCmd.AddCommand(newAttachCommand())
	rootCmd.AddCommand(newTokenCommand())
	rootCmd.AddCommand(newPingCommand())
	rootCmd.AddCommand(newVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pixelbuffer",
		Short: "OMERO pixel buffer microservice",
		Long: `pixelbuffer serves rectangular tiles of OMERO image planes over HTTP.

Tiles are read from a blob store holding one object per plane and pyramid level,
access is checked against OMERO.web sessions, and tiles are returned raw or as
PNG or TIFF.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringP("config", "c", "config.toml", "path to the TOML configuration file")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "log debug messages")
	return cmd
}

// loadConfig reads the configuration named by the --config flag and sets up logging.
func loadConfig(cmd *cobra.Command) (server.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return server.Config{}, err
	}
	c, err := server.LoadConfig(path)
	if err != nil {
		return c, err
	}
	if pixbuf.Verbose, err = cmd.Flags().GetBool("verbose"); err != nil {
		return c, err
	}
	if err := c.Logging.SetLogger(); err != nil {
		return c, fmt.Errorf("bad [logging] configuration: %v", err)
	}
	return c, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the service version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pixelbuffer %s\n", pixbuf.ServiceVersion())
		},
	}
}
