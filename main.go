package main

import "github.com/andresmejia3/imatest/cmd"

func main() {
	cmd.Execute()
}
