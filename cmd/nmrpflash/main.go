package main

import "github.com/metal-stack/nmrpflash/nmrpflash/cli"

func main() {
	cli.CLI()
}
