package main

import "github.com/brogergvhs/coverd/cmd"

func main() {
	cmd.Execute()
}
