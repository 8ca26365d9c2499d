package main

import "github.com/bradnewfield/zmonvif/cmd/zmonvif-trigger/cmd"

func main() {
	cmd.Execute()
}
