package main

import "github.com/tokenledger/quota-proxy/internal/cli"

func main() {
	cli.Execute()
}
