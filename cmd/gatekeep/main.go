// Command gatekeep is a security gateway for MCP tools: it serves an MCP
// client over stdio from in-process tool plugins, enforcing a declarative
// policy on every request.
package main

import "github.com/gatekeep/gatekeep/cmd/gatekeep/cmd"

func main() {
	cmd.Execute()
}
