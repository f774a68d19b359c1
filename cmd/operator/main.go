package main

import "github.com/illuvrse/operator/internal/cli"

func main() {
	cli.Execute()
}
