package main

import "github.com/Yates-Labs/knowhow/cmd"

func main() {
	cmd.Execute()
}
