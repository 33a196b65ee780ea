package main

import "e6grab/cmd"

func main() {
	cmd.Execute()
}
