package envutil

import (
	"os"
	"strings"
)

// IsDev checks if we're running in development mode
// where security requirements can be relaxed for local testing
func IsDev() bool {
	env := strings.ToLower(os.Getenv("HSEAI_ENV"))
	return env == "development" || env == "dev"
}

// StatePath returns the directory used for file-backed client state.
// HSEAI_STATE_DIR wins, then the user config dir, then the working directory.
func StatePath(file string) string {
	if dir := os.Getenv("HSEAI_STATE_DIR"); dir != "" {
		return dir + string(os.PathSeparator) + file
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "hseai-session" + string(os.PathSeparator) + file
	}
	return file
}
