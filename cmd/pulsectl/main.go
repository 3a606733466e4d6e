package main

import "github.com/vedran77/pulsecore/cmd/pulsectl/cli"

func main() {
	cli.Execute()
}
