// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command portdrop drops TCP traffic on one port at the XDP hook.
package main

import (
	"os"

	"grimm.is/portdrop/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Args[1:], cmd.StdStreams()))
}
