package main

import "dlwatch/cmd"

func main() {
	cmd.Execute()
}
