package builder

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/vk/pipecrate/internal/ctxlog"
	"github.com/vk/pipecrate/internal/plan"
)

// Docker builds images by invoking the docker CLI. Image builds are
// long-running by nature, so the timeout is unbounded unless configured.
type Docker struct {
	// Binary overrides the docker executable name, default "docker".
	Binary string
	// Timeout bounds one build; zero means unbounded.
	Timeout time.Duration
}

// Build writes the plan's build context to contextDir and runs
// `docker build`. Cancellation is forwarded to the docker child process
// as a signal to its process group.
func (d *Docker) Build(ctx context.Context, p *plan.BuildPlan, contextDir string) (string, error) {
	logger := ctxlog.FromContext(ctx).With("image", p.ImageTag)

	if err := plan.WriteContext(p, contextDir); err != nil {
		return "", err
	}
	logger.Debug("Build context written.", "dir", contextDir)

	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	binary := d.Binary
	if binary == "" {
		binary = "docker"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, "build", "--quiet", "--tag", p.ImageTag, contextDir)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Signal the whole process group so buildkit children die too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	logger.Info("🔨 Invoking build collaborator.", "binary", binary)
	if err := cmd.Run(); err != nil {
		return "", &BuildError{
			Image:  p.ImageTag,
			Output: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	imageID := strings.TrimSpace(stdout.String())
	logger.Info("✅ Image built.", "id", imageID)
	return imageID, nil
}

// EntrypointBinary locates the running pipecrate executable so the
// planner can stage it into the build context.
func EntrypointBinary() (string, error) {
	return os.Executable()
}
