// Package main is the entry point for the Boxed control plane server.
//
// Usage:
//
//	boxed-server serve [flags]
package main

import "github.com/akshayaggarwal99/boxed/internal/cli"

func main() {
	cli.Execute()
}
