package config

import (
	"os"

	"github.com/joho/godotenv"
)

// dotenvFiles in precedence order: an entry earlier in the list wins
// over a later one, and variables already set in the environment are
// never overwritten (godotenv.Load semantics).
var dotenvFiles = []string{".env.local", ".env"}

// LoadDotEnv loads local env files before the yaml config is read and
// returns the files that were actually present.
func LoadDotEnv() []string {
	var found []string
	for _, name := range dotenvFiles {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		found = append(found, name)
	}
	if len(found) > 0 {
		_ = godotenv.Load(found...)
	}
	return found
}
