package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/localrag/localrag/cmd"
)

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
