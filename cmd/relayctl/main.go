package main

import "github.com/relaykit/go-relay/internal/cli"

func main() {
	cli.Execute()
}
