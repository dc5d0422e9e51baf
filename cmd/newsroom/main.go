package main

import (
	"newsroom/cmd/cmd"
	"newsroom/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	cmd.Execute()
}
