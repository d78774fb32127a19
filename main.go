// ./main.go
package main

import (
	"github.com/mmmyyc/ai-template-sub000/cmd"
)

// main is the entry point for the slide-edit CLI.
func main() {
	cmd.Execute()
}
