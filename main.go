package main

import "github.com/fundora/apiserver/cmd"

func main() {
	cmd.Execute()
}
