// Package main is the entry point for the replay application
package main

import (
	"github.com/lsst-ts/ts-criopy-sub002/cmd"
)

func main() {
	cmd.Execute()
}
