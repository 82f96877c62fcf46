package main

import "soloader/internal/cli"

func main() {
	cli.Execute()
}
