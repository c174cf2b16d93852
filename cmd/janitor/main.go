package main

import "github.com/mohamad-damaj/shoptimizer/services/janitor/cli"

func main() {
	cli.Execute()
}
