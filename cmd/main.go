package main

import "github.com/0xlemi/polytune/internal/cli"

func main() {
	cli.Execute()
}
