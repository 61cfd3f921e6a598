package container

import (
	"fmt"
	"strings"
)

// parseMemory converts a Kubernetes-style memory suffix ("256Mi", "2Gi",
// "512M") to bytes, for container.Resources.Memory.
func parseMemory(memory string) (int64, error) {
	memory = strings.TrimSpace(memory)
	if memory == "" {
		return 0, nil
	}
	switch {
	case strings.HasSuffix(memory, "Gi"):
		v, err := parseFloat(strings.TrimSuffix(memory, "Gi"))
		return int64(v * 1024 * 1024 * 1024), err
	case strings.HasSuffix(memory, "Mi"):
		v, err := parseFloat(strings.TrimSuffix(memory, "Mi"))
		return int64(v * 1024 * 1024), err
	case strings.HasSuffix(memory, "G"):
		v, err := parseFloat(strings.TrimSuffix(memory, "G"))
		return int64(v * 1000 * 1000 * 1000), err
	case strings.HasSuffix(memory, "M"):
		v, err := parseFloat(strings.TrimSuffix(memory, "M"))
		return int64(v * 1000 * 1000), err
	default:
		v, err := parseFloat(memory)
		return int64(v), err
	}
}

// parseCPU converts a Kubernetes-style CPU quantity ("500m", "0.5", "2")
// to Docker's NanoCPUs unit.
func parseCPU(cpu string) (int64, error) {
	cpu = strings.TrimSpace(cpu)
	if cpu == "" {
		return 0, nil
	}
	if strings.HasSuffix(cpu, "m") {
		v, err := parseFloat(strings.TrimSuffix(cpu, "m"))
		return int64(v * 1_000_000), err // 1000m = 1 CPU = 1e9 nanoCPUs
	}
	v, err := parseFloat(cpu)
	return int64(v * 1_000_000_000), err
}

func parseFloat(s string) (float64, error) {
	var f float64
	n, err := fmt.Sscanf(s, "%f", &f)
	if err != nil || n != 1 {
		return 0, fmt.Errorf("invalid numeric quantity %q", s)
	}
	return f, nil
}
