package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; explicit env vars still apply.
	_ = godotenv.Load()

	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
