package main

import "github.com/c54335/contract-delivery-tracker/cmd"

func main() {
	cmd.Execute()
}
