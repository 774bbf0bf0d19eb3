package main

import (
	"context"
	"log/slog"

	"github.com/scott-cotton/cli"
)

func main() {
	// badger and persist log through the default logger
	slog.SetDefault(theLog)
	cli.MainContext(context.Background(), MainCommand())
}
