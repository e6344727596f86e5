package main

import "github.com/jmcleod/coursegate/cmd/coursegate/cmd"

func main() {
	cmd.Execute()
}
