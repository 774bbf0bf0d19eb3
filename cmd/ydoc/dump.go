package main

import (
	"github.com/scott-cotton/cli"
	"github.com/signadot/ydoc/value"
)

func dump(cfg *DumpConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Dump.Parse(cc, args)
	if err != nil {
		return err
	}
	js, err := docJSON(args)
	if err != nil {
		return err
	}
	v, err := value.FromJSON([]byte(js))
	if err != nil {
		return err
	}
	return writeJSON(cc.Out, v, cfg.colors(cc.Out))
}
