package main

import "github.com/jerome-ceccato/andre/cmd"

func main() {
	cmd.Execute()
}
