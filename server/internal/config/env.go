package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (".env" when none are
// named) into the process environment without overriding variables that are
// already set. Production deployments skip it and rely on the real
// environment. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if os.Getenv("GO_ENV") == "production" {
		return nil
	}
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("config: no env file", "path", f)
			continue
		}
		if err != nil {
			return err
		}
		slog.Info("config: loaded env file", "path", f)
	}
	return nil
}
