// Package main is the CLI entry point for the anotherai inference gateway.
//
// Start the server:
//
//	anotherai serve --config anotherai.yaml
//
// List the model catalog:
//
//	anotherai models
//
// Verify configured provider credentials:
//
//	anotherai check
//
// Provider credentials are read from the environment (OPENAI_API_KEY,
// ANTHROPIC_API_KEY, GEMINI_API_KEY, ...; indexed variants like
// OPENAI_API_KEY_1 add extra credentials for the same vendor). A .env file in
// the working directory is loaded when present.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// Missing .env is the common case in production; ignore it.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := buildRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
