package main

import "presagebridge/cmd"

func main() {
	cmd.Execute()
}
