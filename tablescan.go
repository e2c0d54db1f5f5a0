package main

import "github.com/maxpert/tablescan/cmd"

func main() {
	cmd.Execute()
}
