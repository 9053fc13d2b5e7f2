package main

import "github.com/veritime/facegate/cmd"

func main() {
	cmd.Execute()
}
