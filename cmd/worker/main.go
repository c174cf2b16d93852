package main

import "github.com/mohamad-damaj/shoptimizer/services/worker/cli"

func main() {
	cli.Execute()
}
