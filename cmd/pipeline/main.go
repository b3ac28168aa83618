package main

import "github.com/xela07ax/spaceai-action-pipeline/internal/cmd"

func main() {
	cmd.Execute()
}
