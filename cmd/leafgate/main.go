package main

import "github.com/jmcleod/leafgate/cmd/leafgate/cmd"

func main() {
	cmd.Execute()
}
