package main

import (
	"github.com/surpriz/cloud-waste-sub010/cmd/cloudwaste/commands"
)

func main() {
	commands.Execute()
}
