package main

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type ConsoleConfig struct {
	APIBaseURL string
	Timeout    time.Duration
	// Slot, when set, skips the slot picker.
	Slot string
}

func main() {
	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		Timeout:    30 * time.Second,
		Slot:       getEnv("CONSOLE_SLOT", ""),
	}
	if len(os.Args) > 1 {
		cfg.Slot = os.Args[1]
	}

	api := newAPIClient(cfg.APIBaseURL, cfg.Timeout)
	if !api.healthy() {
		fmt.Fprintf(os.Stderr, "Could not connect to API. Please ensure the API and worker are running.\nTry: docker-compose up -d\n")
		os.Exit(1)
	}

	p := tea.NewProgram(NewConsoleUI(cfg, api),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
