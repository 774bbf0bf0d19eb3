package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/scott-cotton/cli"
	"github.com/signadot/ydoc"
)

func ydocMain(cfg *MainConfig, cc *cli.Context, args []string) error {
	defer func() {
		if cfg.CloseOut != nil {
			cfg.CloseOut()
		}
	}()
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	return err
}

func (cfg *MainConfig) outOpt(cc *cli.Context, a string) (any, error) {
	cfg.Out = a
	if a == "-" {
		return nil, nil
	}
	f, err := os.OpenFile(cfg.Out, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	cc.Out = f
	cfg.CloseOut = f.Close
	return nil, nil
}

// readUpdate reads an update file; "-" is stdin.
func readUpdate(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// loadDoc applies the updates in paths, in order, to a fresh document.
// No paths reads stdin.
func loadDoc(paths []string) (*ydoc.Doc, error) {
	if len(paths) == 0 {
		paths = []string{"-"}
	}
	d := ydoc.New(ydoc.Options{Log: theLog})
	tx := d.Begin()
	defer tx.Free()
	for _, p := range paths {
		u, err := readUpdate(p)
		if err != nil {
			return nil, err
		}
		if err := tx.ApplyUpdate(u); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return d, nil
}

// docJSON loads paths and renders the whole document.
func docJSON(paths []string) (string, error) {
	d, err := loadDoc(paths)
	if err != nil {
		return "", err
	}
	tx := d.Begin()
	defer tx.Free()
	return tx.ToJSON()
}
