package main

import "timesheets/cmd"

func main() {
	cmd.Execute()
}
