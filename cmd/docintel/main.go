package main

import (
	"github.com/joho/godotenv"

	"docintel/internal/cli"
)

func main() {
	// Best effort; API keys may come from the real environment instead.
	godotenv.Load()

	cli.Execute()
}
