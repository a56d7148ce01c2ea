package main

import (
	"github.com/d3clan/dynamic-branch-env/internal/cli"
)

func main() {
	cli.Execute()
}
