package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/api"
	"github.com/sells-group/prospector/internal/notify"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prospecting API and public demo server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		hub := notify.NewHub(cfg.Server.CORSOrigins...)
		pub, closePub, err := notify.NewPublisher(cfg.Notify.Push, hub, func() (*notify.AMQPPublisher, error) {
			return notify.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		})
		if err != nil {
			return err
		}
		defer closePub() //nolint:errcheck

		fan := notify.NewFanout(st, pub)
		env := newSearchEnv(st, cfg)
		ai := newAIClient(cfg)

		demos, err := newDemoPublisher(st, ai, env.Places, fan, cfg)
		if err != nil {
			return err
		}

		deps := api.Deps{
			Store:         st,
			Searcher:      env.Manager,
			Estimator:     env.Estimator,
			Enricher:      newPipeline(st, ai, cfg),
			Demos:         demos,
			Converter:     newConverter(st, fan, cfg),
			Notifications: fan,
			CORSOrigins:   cfg.Server.CORSOrigins,
		}
		if cfg.Notify.Push == notify.PushWS || cfg.Notify.Push == notify.PushBoth {
			deps.Streamer = hub
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("store", cfg.Store.Driver),
			zap.String("push", cfg.Notify.Push),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		// Let in-flight notifications and CRM syncs finish before the store closes.
		fan.Wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
