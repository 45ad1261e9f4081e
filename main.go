package main

import "github.com/pvondra/facefinder/cmd"

func main() {
	cmd.Execute()
}
