package main

import (
	"github.com/luma/photon/cmd"
)

func main() {
	cmd.Execute()
}
