package hostid

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

var (
	once   sync.Once
	cached string
)

// ID returns a stable identifier for this machine, used to tag device event
// rows. It prefers the hardware UUID and falls back to the hostname.
func ID() string {
	once.Do(func() {
		if id := hardwareUUID(); id != "" {
			cached = id
			return
		}
		if name, err := os.Hostname(); err == nil {
			cached = strings.TrimSpace(name)
		}
	})
	return cached
}

// hardwareUUID is best effort: system_profiler on macOS, machine-id or the
// DMI product uuid on Linux, nothing elsewhere.
func hardwareUUID() string {
	switch runtime.GOOS {
	case "darwin":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "bash", "-c",
			"system_profiler SPHardwareDataType | awk '/Hardware UUID/ {print $3}'").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	case "linux":
		return firstNonEmpty("/etc/machine-id", "/sys/class/dmi/id/product_uuid")
	default:
		return ""
	}
}

func firstNonEmpty(paths ...string) string {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return ""
}
