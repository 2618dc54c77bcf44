package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/victorx64/biohack-debunker/internal/server"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis HTTP service",
	Long: `Serve exposes the pipeline over HTTP:
  POST /analyze   run an analysis request
  GET  /health    route and backend summary
  GET  /metrics   Prometheus metrics

Run several replicas against one Redis to share the literature rate limit.

Example:
  debunker serve
  debunker serve --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.pipeline, server.Options{
		ServiceName: cfg.Server.ServiceName,
		Health:      a.health,
		Logger:      a.logger,
	})

	if verbose {
		fmt.Fprintf(os.Stderr, "Listening on %s\n", addr)
	}
	return srv.Run(ctx, addr)
}
