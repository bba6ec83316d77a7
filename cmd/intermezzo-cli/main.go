package main

import "github.com/proofmint/intermezzo/cmd/intermezzo-cli/cmd"

func main() {
	cmd.Execute()
}
