package tools

import (
	"os"
	"strings"
)

// GetenvDefault returns the value of key, or defaultValue when it is unset or blank.
func GetenvDefault(key string, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
