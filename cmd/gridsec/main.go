package main

import "github.com/terraconstructs/gridsec/cmd/gridsec/cmd"

func main() {
	cmd.Execute()
}
