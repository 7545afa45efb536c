package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/effective-security/x/ctl"
	"github.com/effective-security/xcryptodev/cmd/cryptodev-tool/cli"
	"github.com/effective-security/xcryptodev/internal/version"
)

type app struct {
	cli.Cli

	Version kong.VersionFlag `name:"version" help:"Print version information and quit" hidden:""`

	Algos cli.AlgosCmd `cmd:"" help:"List supported algorithms"`
	Info  cli.InfoCmd  `cmd:"" help:"Print session info of the device"`
	Hash  cli.HashCmd  `cmd:"" help:"Print digest of the input"`
	Chain cli.ChainCmd `cmd:"" help:"Run the iterated hash over the configured input"`
	Kat   cli.KatCmd   `cmd:"" help:"Run known-answer tests against the device"`
}

func main() {
	realMain(os.Args, os.Stdout, os.Stderr, os.Exit)
}

func realMain(args []string, out io.Writer, errout io.Writer, exit func(int)) {
	cl := app{
		Cli: cli.Cli{},
	}
	cl.Cli.WithErrWriter(errout).
		WithWriter(out)

	parser, err := kong.New(&cl,
		kong.Name("cryptodev-tool"),
		kong.Description("CLI tool for hashing sessions on crypto devices"),
		kong.Writers(out, errout),
		kong.Exit(exit),
		ctl.BoolPtrMapper,
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version.Current().String(),
		})
	if err != nil {
		panic(err)
	}

	ctx, err := parser.Parse(args[1:])
	parser.FatalIfErrorf(err)

	if ctx != nil {
		if cl.Debug {
			// in DEBUG more print command line
			_, _ = fmt.Fprintf(ctx.Stdout, "#\n# %s\n#\n", strings.Join(args, " "))
		}
		err = ctx.Run(&cl.Cli)
		ctx.FatalIfErrorf(err)
	}
}
