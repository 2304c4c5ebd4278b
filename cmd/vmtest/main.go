package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roach88/vmtest/internal/cli"
)

// Version is set at build time.
var Version = "dev"

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := cli.NewRootCommand()
	cmd.Version = Version
	cmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return cli.ExitSuccess
	}

	// ExitErrors have already been reported by the command.
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return cli.ExitCommandError
}
