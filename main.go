package main

import "world-sync/cmd"

func main() {
	cmd.Execute()
}
