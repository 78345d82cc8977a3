package main

import (
	"context"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/server"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tiles over HTTP",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
	flags := cmd.Flags()
	flags.String("http", "", "address for HTTP communication, overriding server.http_address")
	flags.Int("workers", 0, "number of tile workers, overriding server.workers")
	flags.Int("queue", -1, "number of queued tile jobs, overriding server.queue_size")
	flags.Duration("wait", 30*time.Second, "how long to wait for the pixel and session stores at startup")
	flags.String("cpuprofile", "", "write a CPU profile to this file")
	return cmd
}

func serve(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer pixbuf.Shutdown()

	flags := cmd.Flags()
	overrideConfig(&c, flags)

	if profile, _ := flags.GetString("cpuprofile"); profile != "" {
		f, err := os.Create(profile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return err
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := server.NewService(ctx, c)
	if err != nil {
		pixbuf.Criticalf("Can't start service: %v\n", err)
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			pixbuf.Errorf("Error closing service: %v\n", err)
		}
	}()

	wait, _ := flags.GetDuration("wait")
	if err := svc.WaitReady(ctx, wait); err != nil {
		pixbuf.Criticalf("Backends not reachable: %v\n", err)
		return err
	}
	d := svc.Dispatcher()
	pixbuf.Infof("pixelbuffer %s starting, %d workers, queue of %d\n",
		pixbuf.ServiceVersion(), d.Workers(), d.QueueCapacity())

	if err := svc.Run(ctx); err != nil && err != context.Canceled {
		pixbuf.Criticalf("Server stopped: %v\n", err)
		return err
	}
	pixbuf.Infof("Server stopped.\n")
	return nil
}

// overrideConfig applies the serve flags that were given on top of the configuration.
func overrideConfig(c *server.Config, flags *pflag.FlagSet) {
	if addr, _ := flags.GetString("http"); addr != "" {
		c.Server.HTTPAddress = addr
	}
	if n, _ := flags.GetInt("workers"); n > 0 {
		c.Server.Workers = n
	}
	if n, _ := flags.GetInt("queue"); n >= 0 {
		c.Server.QueueSize = n
	}
}
