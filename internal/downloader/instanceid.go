package downloader

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// InstanceID identifies this process in the download history, so records
// written by several processes sharing one database stay distinguishable.
func InstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
