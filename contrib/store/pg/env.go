package pg

import (
	"os"
	"strconv"
)

func getenv(key string) string {
	return os.Getenv(key)
}

func getenvInt(key string) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
