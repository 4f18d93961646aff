package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// LoadEnv reads the given .env files (".env" when none are named) into
// the process environment without overriding variables already set.
// Missing files are skipped.
func LoadEnv(files ...string) error {

	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "failed to read in env file '%s'", f)
		}
	}

	return nil
}
