package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/idorocodes/qight/internal/cmd"
)

func main() {
	// Optional .env in the working directory; real environment variables
	// and flags still take precedence.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
