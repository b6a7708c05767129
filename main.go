package main

import "github.com/lumehealth/lume-sync/cmd"

func main() {
	cmd.Execute()
}
