package main

import "github.com/mawngo/kclust/cmd"

func main() {
	cmd.NewCLI().Execute()
}
