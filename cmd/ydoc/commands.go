package main

import (
	"github.com/scott-cotton/cli"
)

func MainCommand() *cli.Command {
	cfg := &MainConfig{}
	sOpts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	opts := append(sOpts, &cli.Opt{
		Name:        "o",
		Description: "output file (default stdout)",
		Type:        cli.NamedFuncOpt(cfg.outOpt, "(filepath)"),
	})
	return cli.NewCommandAt(&cfg.Main, "ydoc").
		WithSynopsis("ydoc [opts] command [opts]").
		WithDescription("ydoc hosts and inspects shared documents.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return ydocMain(cfg, cc, args)
		}).
		WithSubs(
			ServeCommand(cfg),
			DumpCommand(cfg),
			DiffCommand(cfg),
			MergeCommand(cfg),
			SVCommand(cfg),
			QueryCommand(cfg))
}

func ServeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ServeConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Serve, "serve").
		WithSynopsis("serve [-config <file>] [-addr <addr>] [-stdio]").
		WithDescription("run the document host").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return serve(cfg, cc, args)
		})
}

func DumpCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &DumpConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Dump, "dump").
		WithAliases("d").
		WithSynopsis("dump [files]").
		WithDescription("apply update files to an empty document and print it as JSON").
		WithRun(func(cc *cli.Context, args []string) error {
			return dump(cfg, cc, args)
		})
}

func DiffCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &DiffConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Diff, "diff").
		WithSynopsis("diff [-r] <from> <to>").
		WithDescription("print the JSON merge patch between the documents of two update files").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return diff(cfg, cc, args)
		})
}

func MergeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &MergeConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Merge, "merge").
		WithSynopsis("merge [-out <file>] files...").
		WithDescription("combine update files into one update").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return merge(cfg, cc, args)
		})
}

func SVCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &SVConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.SV, "sv").
		WithSynopsis("sv [-raw] [files]").
		WithDescription("print the state vector of the document of update files").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return stateVector(cfg, cc, args)
		})
}

func QueryCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &QueryConfig{MainConfig: mainCfg}
	return cli.NewCommandAt(&cfg.Query, "query").
		WithAliases("q").
		WithSynopsis("query <path> [files]").
		WithDescription("print the values a path selects, one per line").
		WithRun(func(cc *cli.Context, args []string) error {
			return runQuery(cfg, cc, args)
		})
}
