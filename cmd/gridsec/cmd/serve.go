package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/gridsec/internal/cluster"
	"github.com/terraconstructs/gridsec/internal/security"
	"github.com/terraconstructs/gridsec/internal/security/backend"
	"github.com/terraconstructs/gridsec/internal/server"
	"github.com/terraconstructs/gridsec/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the grid security node",
	Long:  `Starts the local node: security backend, join validation and the client-facing HTTP endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		users := map[string]backend.User{}
		var grants []backend.Grant
		if cfg.PolicyPath != "" {
			var err error
			users, grants, err = backend.LoadPolicyFile(cfg.PolicyPath)
			if err != nil {
				return fmt.Errorf("load policy: %w", err)
			}
			log.Printf("Loaded policy [users=%d, grants=%d]", len(users), len(grants))
		}

		var tokenSecret []byte
		if cfg.JWTSecret != "" {
			tokenSecret = []byte(cfg.JWTSecret)
		}

		be, err := backend.NewCasbinBackend(backend.Options{
			NodeSecret:        cfg.NodeSecret,
			Users:             users,
			Grants:            grants,
			TokenSecret:       tokenSecret,
			TokenIssuer:       cfg.JWTIssuer,
			GlobalNodeAuth:    cfg.GlobalNodeAuth,
			DecisionCacheSize: cfg.DecisionCacheSize,
		})
		if err != nil {
			return fmt.Errorf("configure security backend: %w", err)
		}

		metrics, err := telemetry.NewSecurityMetrics()
		if err != nil {
			return fmt.Errorf("configure security metrics: %w", err)
		}

		local := cluster.NewNode(cfg.NodeName, cfg.BindAddr)
		membership := cluster.NewMembership(local)

		proc, err := security.NewProcessor(security.ProcessorDeps{
			Backend:         be,
			Discovery:       membership,
			NodeCredentials: security.Credentials{Login: cfg.NodeName, Secret: cfg.NodeSecret},
			Observer:        metrics,
		})
		if err != nil {
			return fmt.Errorf("configure security processor: %w", err)
		}

		if err := proc.Start(cmd.Context()); err != nil {
			return fmt.Errorf("start security processor: %w", err)
		}
		defer func() {
			if err := proc.Stop(context.Background()); err != nil {
				log.Printf("WARNING: security processor stop: %v", err)
			}
		}()

		// Joining peers are screened before they enter the topology.
		membership.RegisterValidator(proc.JoinValidator())

		router, err := server.NewRouter(server.RouterOptions{
			Security: proc,
			Observer: metrics,
		})
		if err != nil {
			return fmt.Errorf("configure router: %w", err)
		}

		srv := &http.Server{
			Addr:         cfg.BindAddr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		serverErrors := make(chan error, 1)
		go func() {
			log.Printf("Starting server on %s [node=%s]", cfg.BindAddr, local.ID)
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)

		case sig := <-shutdown:
			log.Printf("Received signal %v, shutting down gracefully", sig)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			log.Printf("Server stopped")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
