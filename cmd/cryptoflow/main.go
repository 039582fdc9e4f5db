package main

import (
	"github.com/avolkov/cryptoflow/internal/commands"
)

var version = "dev"

func main() {
	commands.Execute(version)
}
