package main

import "github.com/mohamad-damaj/shoptimizer/services/api/cli"

func main() {
	cli.Execute()
}
