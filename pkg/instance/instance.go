package instance

import (
	"os"
	"strings"
)

// ID names the running process for logs and lock ownership. The first
// non-empty of SHOPHUB_INSTANCE_ID, DYNO and HOSTNAME wins.
func ID() string {
	for _, key := range []string{"SHOPHUB_INSTANCE_ID", "DYNO", "HOSTNAME"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	return "local"
}
