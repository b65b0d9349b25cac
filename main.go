package main

import (
	"github.com/rtgs-sim/rtgs-sim/cmd"
)

func main() {
	cmd.Execute()
}
