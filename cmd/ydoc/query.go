package main

import (
	"fmt"

	"github.com/scott-cotton/cli"
	"github.com/signadot/ydoc/query"
)

func runQuery(cfg *QueryConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Query.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: missing path", cli.ErrUsage)
	}
	p, err := query.Parse(args[0])
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	d, err := loadDoc(args[1:])
	if err != nil {
		return err
	}
	tx := d.Begin()
	defer tx.Free()
	vals, err := p.Eval(tx)
	if err != nil {
		return err
	}
	for _, v := range vals {
		if _, err := fmt.Fprintln(cc.Out, v); err != nil {
			return err
		}
	}
	return nil
}
