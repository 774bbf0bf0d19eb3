package main

import (
	"fmt"
	"os"

	"github.com/scott-cotton/cli"
	"github.com/signadot/ydoc"
)

func merge(cfg *MergeConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Merge.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: nothing to merge", cli.ErrUsage)
	}
	updates := make([][]byte, 0, len(args))
	for _, p := range args {
		u, err := readUpdate(p)
		if err != nil {
			return err
		}
		updates = append(updates, u)
	}
	merged, err := ydoc.MergeUpdates(updates...)
	if err != nil {
		return err
	}
	if cfg.MergeOut != "" {
		return os.WriteFile(cfg.MergeOut, merged, 0644)
	}
	_, err = cc.Out.Write(merged)
	return err
}
