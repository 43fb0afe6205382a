package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/offlinehq/crmsync/internal/daemon"
	"github.com/offlinehq/crmsync/internal/workspace"
	"go.uber.org/fx"
)

func main() {
	workspaceFlag := flag.String("workspace", "", "workspace name (overrides config default)")
	flag.Parse()

	name := workspace.Resolve(*workspaceFlag)
	if err := workspace.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Workspace: name}),
	)

	app.Run()
}
