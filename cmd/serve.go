package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BioHazard786/discushy/internal/config"
	"github.com/BioHazard786/discushy/internal/hub"
	"github.com/BioHazard786/discushy/internal/logging"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var (
	flagListenAddr string
	flagHubMode    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the room signaling hub",
	Long: `Run the signaling hub that meeting clients connect to. It keeps each
room's roster, relays connection setup between peers and tracks who is
sharing their screen.

Endpoints:
  GET  /ws              websocket signaling (json or msgpack subprotocol)
  GET  /health          liveness probe
  POST /api/rooms       reserve a new room code
  GET  /api/rooms/:id   room roster`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	cfg, err := LoadConfig(config.Options{
		ConfigFile: flagConfigFile,
		ListenAddr: flagListenAddr,
	})
	if err != nil {
		return err
	}
	mode := cfg.HubMode
	if flagHubMode != "" {
		mode = flagHubMode
	}
	logger := logging.Component("serve")

	h := hub.New(logging.Component("hub"))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           hub.NewRouter(h, mode),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting signaling server", "addr", cfg.ListenAddr, "mode", mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagListenAddr, "listen", "l", "", "Listen address (default :8080)")
	serveCmd.Flags().StringVar(&flagHubMode, "mode", "", "Router mode: debug, release or test")
}
