package main

import "github.com/alvmarrod/trust-weaver/cmd/weaver/cmd"

func main() {
	cmd.Execute()
}
