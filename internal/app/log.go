package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gowvp/viewport/internal/conf"
)

// SetupLog 初始化全局日志，verbose 时强制输出 debug 级别
func SetupLog(cfg conf.Log, verbose bool) *slog.Logger {
	return setupLog(os.Stderr, cfg, verbose)
}

func setupLog(w io.Writer, cfg conf.Log, verbose bool) *slog.Logger {
	opts := slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, &opts)
	} else {
		handler = slog.NewTextHandler(w, &opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
