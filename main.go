package main

import "github.com/lexhaven/regtruth/cmd"

func main() {
	cmd.Execute()
}
