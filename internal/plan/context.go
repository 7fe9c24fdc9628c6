package plan

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteContext materializes the plan as a Docker build context: the
// rendered Dockerfile, every embedded file, and the entrypoint binary
// when one was supplied.
func WriteContext(p *BuildPlan, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating build context: %w", err)
	}

	dockerfile, err := Render(p)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), dockerfile, 0o644); err != nil {
		return fmt.Errorf("writing Dockerfile: %w", err)
	}

	for _, step := range p.Steps {
		switch step.Kind {
		case StepEmbedFile:
			if err := os.WriteFile(filepath.Join(dir, step.Source), step.Content, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", step.Source, err)
			}
		case StepCopyBinary:
			if p.EntrypointBinary == "" {
				// Plan-only flows render the COPY line without staging the
				// binary; the docker builder requires it.
				continue
			}
			if err := copyFile(p.EntrypointBinary, filepath.Join(dir, step.Source), 0o755); err != nil {
				return fmt.Errorf("staging entrypoint binary: %w", err)
			}
		}
	}
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
