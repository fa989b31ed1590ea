// Command demoserver starts a local scan target with switchable
// security-header profiles.
// Usage: go run ./cmd/demoserver [port]
// Default port: 9999
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/wrenlabs/websentry/internal/demoserver"
)

func main() {
	cfg := demoserver.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}

	fmt.Println("websentry demo target")
	fmt.Println()
	fmt.Println("Serves a page under switchable security-header profiles")
	fmt.Println("(secure, insecure, mixed) so the scanner can be exercised")
	fmt.Println("end to end against localhost. Remember to set")
	fmt.Println("WEBSENTRY_ALLOW_PRIVATE_TARGETS=true on the scanner side.")
	fmt.Println()

	server := demoserver.NewDemoServer(cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
