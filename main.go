package main

import "github.com/nextlevelbuilder/wagate/cmd"

func main() {
	cmd.Execute()
}
