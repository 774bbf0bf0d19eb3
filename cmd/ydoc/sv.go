package main

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/scott-cotton/cli"
	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/value"
)

func stateVector(cfg *SVConfig, cc *cli.Context, args []string) error {
	args, err := cfg.SV.Parse(cc, args)
	if err != nil {
		return err
	}
	d, err := loadDoc(args)
	if err != nil {
		return err
	}
	tx := d.Begin()
	sv, err := tx.StateVector()
	tx.Free()
	if err != nil {
		return err
	}
	if cfg.Raw {
		_, err = fmt.Fprintln(cc.Out, base64.StdEncoding.EncodeToString(sv))
		return err
	}
	clocks, err := ydoc.DecodeStateVector(sv)
	if err != nil {
		return err
	}
	fields := make(map[string]value.Any, len(clocks))
	for client, clock := range clocks {
		fields[strconv.FormatUint(client, 10)] = value.Number(float64(clock))
	}
	return writeJSON(cc.Out, value.Map(fields), cfg.colors(cc.Out))
}
