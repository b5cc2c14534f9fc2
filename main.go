package main

import (
	"github.com/sidkik/ship/cmd"
	"github.com/sidkik/ship/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
