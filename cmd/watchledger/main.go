// Command watchledger is the administrative CLI for a watchledger store.
package main

import "github.com/xraph/watchledger/internal/cli"

func main() {
	cli.Execute()
}
