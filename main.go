package main

import "github.com/relaywave/wagateway/cmd"

func main() {
	cmd.Execute()
}
