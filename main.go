package main

import "github.com/agentic-research/sift/cmd"

func main() {
	cmd.Execute()
}
