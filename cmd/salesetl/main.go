package main

import "salesetl/cmd/salesetl/cmd"

func main() {
	cmd.Execute()
}
