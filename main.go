package main

import "github.com/kozaktomas/photo-finder/cmd"

func main() {
	cmd.Execute()
}
