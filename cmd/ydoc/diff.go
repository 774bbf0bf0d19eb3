package main

import (
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/scott-cotton/cli"
	"github.com/signadot/ydoc/value"
)

func diff(cfg *DiffConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Diff.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: diff needs 2 files, got %d", cli.ErrUsage, len(args))
	}
	from, to := args[0], args[1]
	if cfg.Reverse {
		from, to = to, from
	}
	a, err := docJSON([]string{from})
	if err != nil {
		return err
	}
	b, err := docJSON([]string{to})
	if err != nil {
		return err
	}
	patch, err := jsonpatch.CreateMergePatch([]byte(a), []byte(b))
	if err != nil {
		return fmt.Errorf("create merge patch: %w", err)
	}
	v, err := value.FromJSON(patch)
	if err != nil {
		return err
	}
	return writeJSON(cc.Out, v, cfg.colors(cc.Out))
}
