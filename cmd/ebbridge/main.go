// Package main is the entry point for the ebbridge CLI.
package main

import "ebbridge/cmd/ebbridge/commands"

func main() {
	commands.Execute()
}
