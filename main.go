package main

import "github.com/oo-developer/mfclone/cli"

func main() {
	cli.Execute()
}
