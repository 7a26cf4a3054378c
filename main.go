package main

import "github.com/strata-etl/strata/cmd"

func main() {
	cmd.Execute()
}
