// Command tutor is the voice client for the language tutor.
package main

import "github.com/teslashibe/go-tutor/internal/cli"

func main() {
	cli.Execute()
}
