package main

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/scott-cotton/cli"
)

type MainConfig struct {
	Color bool `cli:"name=color desc='color JSON output'"`

	Out      string
	CloseOut func() error

	Main *cli.Command
}

// colors returns the palette for w, or nil for plain output. An
// explicit -color wins over terminal detection.
func (cfg *MainConfig) colors(w io.Writer) *jsonColors {
	if cfg.Color {
		color.NoColor = false
		return newJSONColors()
	}
	for _, opt := range cfg.Main.Opts {
		if opt.Name == "color" && opt.Value != nil {
			return nil
		}
	}
	f, ok := w.(*os.File)
	if !ok {
		return nil
	}
	if isatty.IsTerminal(f.Fd()) {
		return newJSONColors()
	}
	return nil
}

type ServeConfig struct {
	*MainConfig
	ConfigFile string `cli:"name=config desc='configuration file (yaml)'"`
	Addr       string `cli:"name=addr desc='TCP listen address'"`
	Stdio      bool   `cli:"name=stdio desc='serve one session on stdin/stdout'"`
	Dispatch   string `cli:"name=dispatch desc='observer dispatch: deferred or inline'"`

	Serve *cli.Command
}

type DumpConfig struct {
	*MainConfig

	Dump *cli.Command
}

type DiffConfig struct {
	*MainConfig
	Reverse bool `cli:"name=r desc='reverse the diff'"`

	Diff *cli.Command
}

type MergeConfig struct {
	*MainConfig
	MergeOut string `cli:"name=out desc='output file (default the -o of ydoc)'"`

	Merge *cli.Command
}

type SVConfig struct {
	*MainConfig
	Raw bool `cli:"name=raw desc='write the encoded state vector'"`

	SV *cli.Command
}

type QueryConfig struct {
	*MainConfig

	Query *cli.Command
}
