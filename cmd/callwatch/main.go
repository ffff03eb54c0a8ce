package main

import (
	"call-price-tracker/internal/cli"
)

func main() {
	cli.Execute()
}
