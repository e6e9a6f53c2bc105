package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gowvp/viewport/internal/conf"
	"github.com/gowvp/viewport/internal/core/backend"
)

// Serve 启动 HTTP 服务，收到退出信号后优雅关闭
func Serve(bc *conf.Bootstrap) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := wireApp(bc)
	if err != nil {
		return err
	}
	defer cleanup()

	svc := http.Server{
		Addr:              ":" + strconv.Itoa(bc.Server.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server started", "port", bc.Server.HTTP.Port, "version", bc.BuildVersion)
		if err := svc.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}

// Streams 解析并启动全部地址对应的流，输出流信息后等待退出信号
func Streams(bc *conf.Bootstrap, urls []string, w io.Writer) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, cleanup, err := wireManager(bc)
	if err != nil {
		return err
	}
	defer cleanup()

	return runStreams(ctx, manager, urls, w)
}

func runStreams(ctx context.Context, manager *backend.Manager, urls []string, w io.Writer) error {
	streams, err := manager.Open(ctx, urls)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, s := range streams {
		if err := enc.Encode(s.Info()); err != nil {
			return err
		}
	}

	<-ctx.Done()
	slog.Info("stopping streams", "count", len(streams))
	return nil
}
