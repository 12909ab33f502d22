package main

import "github.com/dokzlo13/roomd/cmd/roomd/cmd"

func main() {
	cmd.Execute()
}
