package main

import "github.com/timvw/sisqo/cmd"

func main() {
	cmd.Execute()
}
