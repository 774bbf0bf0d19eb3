package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/scott-cotton/cli"
	"github.com/signadot/ydoc/system/hostd/server"
)

func serve(cfg *ServeConfig, cc *cli.Context, args []string) error {
	_, err := cfg.Serve.Parse(cc, args)
	if err != nil {
		return err
	}

	// Start gops agent for debugging
	if err := agent.Listen(agent.Options{}); err != nil {
		theLog.Warn("gops agent failed", "error", err)
	}
	defer agent.Close()

	serverConfig := server.DefaultConfig()
	if cfg.ConfigFile != "" {
		serverConfig, err = server.LoadConfig(cfg.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	if cfg.Addr != "" {
		serverConfig.Addr = cfg.Addr
	}
	if cfg.Dispatch != "" {
		serverConfig.Dispatch = cfg.Dispatch
	}
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}

	srv, err := server.New(&server.Spec{Config: serverConfig, Log: theLog})
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Stdio {
		return srv.ServeStdio(ctx, os.Stdin, os.Stdout)
	}
	if err := srv.StartTCP(serverConfig.Addr); err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}
	fmt.Fprintf(cc.Out, "ydoc listening on %s\n", srv.TCPAddr())
	<-ctx.Done()
	return nil
}
