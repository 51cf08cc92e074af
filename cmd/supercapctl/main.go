package main

import (
	"github.com/robotalks/supercap.go/pkg/cli/sh"
	"github.com/robotalks/supercap.go/pkg/link"

	_ "github.com/robotalks/supercap.go/pkg/can/all"
	_ "github.com/robotalks/supercap.go/pkg/cli/cmds/supercap"
)

//go-build: CGO_ENABLED=0

func init() {
	link.SetupFlags()
}

func main() {
	sh.Main()
}
