package main

import (
	"io"
	"log/slog"
	"os"
)

var theLog = newLog(os.Stderr, os.Getenv("DEBUG") != "")

func newLog(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			switch {
			case a.Key == slog.TimeKey:
				return slog.Attr{}
			case a.Key == slog.LevelKey && a.Value.String() == "INFO":
				return slog.Attr{}
			}
			return a
		},
	}))
}
