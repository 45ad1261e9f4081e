package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pvondra/facefinder/internal/config"
	"github.com/pvondra/facefinder/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run report dashboard",
	Long: `Start the web dashboard showing the results of the last organizer run:
which photos matched, which were routed and what the run cost.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := newLogger()
	cfg := config.Load()

	if cmd.Flags().Changed("port") {
		cfg.Web.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Web.Host, _ = cmd.Flags().GetString("host")
	}

	server := web.NewServer(cfg, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
