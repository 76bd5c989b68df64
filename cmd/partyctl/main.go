package main

import "github.com/mcoot/partyrelay/internal/cli"

func main() {
	cli.Execute()
}
