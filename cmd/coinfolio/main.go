package main

import (
	"coinfolio/internal/cli"
)

func main() {
	cli.Execute()
}
