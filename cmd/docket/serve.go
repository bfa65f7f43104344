package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docket/internal/metrics"
	"docket/internal/server"
	"docket/internal/ttlcache"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("DOCKET_JWT_SECRET is required for bearer auth")
			}
			e, closeFn, err := openEngine(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			e.Metrics = metrics.New()

			codes := ttlcache.New[string]()
			go codes.Run(ctx, time.Minute)
			authCfg := server.AuthConfig{
				JWTSecret: secret,
				DevLogin:  devLogin,
				Codes:     codes,
				Logger:    e.Logger,
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Metrics: e.Metrics})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			e.Logger.Info("serving docket api",
				"addr", addr,
				"base_path", basePath,
				"dev_login", devLogin,
				"docs", "/docs",
				"openapi", "/openapi.json",
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable one-time-code dev login (never in production)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens (or DOCKET_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
