package main

import "github.com/arcward/modbot/cmd"

func main() {
	cmd.Execute()
}
