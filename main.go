package main

import "github.com/endorses/fpengine/cmd"

func main() {
	cmd.Execute()
}
