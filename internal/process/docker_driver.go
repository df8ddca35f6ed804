package process

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DockerDriver starts and force-stops agent containers via the docker CLI,
// the same os/exec-wrapping approach the sandboxed code executor uses for
// short-lived containers, generalized here to long-running agent processes
// that speak the hub's websocket protocol back to the controller.
type DockerDriver struct {
	Image     string
	HubURL    string
	ExtraArgs []string
	WorkDir   string
}

// NewDockerDriver builds a driver that launches containers from image,
// pointing each one at hubURL/<processId> for its duplex connection.
func NewDockerDriver(image, hubURL string) *DockerDriver {
	return &DockerDriver{Image: image, HubURL: hubURL}
}

func (d *DockerDriver) Start(ctx context.Context, p *Process) error {
	name := containerName(p.ID)
	args := []string{
		"run", "--detach", "--rm",
		"--name", name,
		"-e", fmt.Sprintf("MAGI_PROCESS_ID=%s", p.ID),
		"-e", fmt.Sprintf("MAGI_HUB_URL=%s/%s", strings.TrimRight(d.HubURL, "/"), p.ID),
		"-e", fmt.Sprintf("MAGI_PROJECT_ID=%s", p.ProjectID),
	}
	if d.WorkDir != "" {
		args = append(args, "-v", fmt.Sprintf("%s:/workspace", d.WorkDir))
	}
	args = append(args, d.ExtraArgs...)
	args = append(args, d.Image)

	cmd := exec.CommandContext(ctx, "docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("process: docker run: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *DockerDriver) ForceStop(ctx context.Context, processID string) error {
	cmd := exec.CommandContext(ctx, "docker", "stop", "--time", "5", containerName(processID))
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("process: docker stop: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func containerName(processID string) string {
	return "magi-agent-" + processID
}
