package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/logger"
)

// shutdownTimeout 優雅關閉的等待時間
const shutdownTimeout = 30 * time.Second

// Run 啟動 HTTP 伺服器，直到 ctx 結束後優雅關閉.
func Run(ctx context.Context, handler http.Handler) error {
	cfg := config.Get()
	addr := config.GetServerAddr()

	readTimeout := 30 * time.Second
	var tlsCfg config.TLSConfig
	if cfg != nil {
		if cfg.Server.Timeout > 0 {
			readTimeout = time.Duration(cfg.Server.Timeout) * time.Second
		}
		tlsCfg = cfg.Security.TLS
	}
	tlsConfig, err := LoadTLSConfig(tlsCfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // SSE 需要長連接
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "HTTP 伺服器正在監聽 %s (TLS: %v)", addr, tlsConfig != nil)
		var err error
		if tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.WithoutCancel(ctx), "收到關閉信號，正在優雅關閉 HTTP 伺服器...", logger.WithAction("shutdown"))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(shutdownCtx, "HTTP 伺服器已優雅關閉")
	return nil
}
