package main

import "supplychain-iq-api/internal/cli"

func main() {
	cli.Execute()
}
