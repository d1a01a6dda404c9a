package main

import (
	"agile-solo-strategy/internal/cli"
)

func main() {
	cli.Execute()
}
