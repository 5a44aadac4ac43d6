package main

import "opsbot/cmd"

func main() {
	cmd.Execute()
}
