package main

import (
	"github.com/halkyon/mongoback/cmd"
)

func main() {
	cmd.Execute()
}
