package main

import "github.com/jmcleod/simpleca/cmd/simpleca/cmd"

func main() {
	cmd.Execute()
}
