// Package main implements the pipewright CLI tool. It provides commands for
// deploying and verifying the streaming telemetry pipeline.
package main

import "github.com/pipewright/pipewright/cmd/pipewright/cmd"

func main() {
	cmd.Execute()
}
