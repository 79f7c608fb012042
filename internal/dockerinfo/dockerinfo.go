// Package dockerinfo lists running Docker containers via `docker ps`,
// adapted verbatim from the teacher's docker.go. It backs the
// additive list_containers diagnostic described in SPEC_FULL.md's
// "Supplemented features".
package dockerinfo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/RJW34/CNM/internal/wire"
)

// List returns the running containers and any exposed ports, using
// `docker ps` rather than the Docker daemon SDK to avoid adding a
// dependency the hub/agent otherwise never needs.
func List(ctx context.Context) ([]wire.ContainerView, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "ps", "--format", "{{json .}}")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("docker ps failed: %s", detail)
	}

	containers := make([]wire.ContainerView, 0)
	scanner := bufio.NewScanner(bytes.NewReader(stdout.Bytes()))
	for scanner.Scan() {
		var row struct {
			Names string `json:"Names"`
			Ports string `json:"Ports"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			continue
		}
		container := wire.ContainerView{Name: row.Names}
		for _, rawPort := range strings.Split(row.Ports, ",") {
			if port := strings.TrimSpace(rawPort); port != "" {
				container.Ports = append(container.Ports, port)
			}
		}
		containers = append(containers, container)
	}
	if err := scanner.Err(); err != nil {
		return containers, err
	}
	return containers, nil
}
