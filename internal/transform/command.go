package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Command runs an external tool, such as a background-removal CLI, once per
// job. The argument template must reference {input} and {output}; the tool
// writes to a temporary path that is renamed to the real output on success.
type Command struct {
	name string
	args []string
}

// NewCommand parses a whitespace-separated template like
// "rembg i {input} {output}".
func NewCommand(template string) (*Command, error) {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil, errors.New("transform command is empty")
	}
	joined := strings.Join(fields[1:], " ")
	if !strings.Contains(joined, "{input}") || !strings.Contains(joined, "{output}") {
		return nil, fmt.Errorf("transform command %q must reference {input} and {output}", template)
	}
	return &Command{name: fields[0], args: fields[1:]}, nil
}

// Transform runs the tool and promotes its output.
func (c *Command) Transform(ctx context.Context, inputPath, outputPath string) error {
	tmp := filepath.Join(filepath.Dir(outputPath), ".tmp-"+filepath.Base(outputPath))
	defer os.Remove(tmp)

	args := make([]string, len(c.args))
	for i, a := range c.args {
		a = strings.ReplaceAll(a, "{input}", inputPath)
		args[i] = strings.ReplaceAll(a, "{output}", tmp)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := lastLine(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %s", filepath.Base(c.name), msg)
		}
		return fmt.Errorf("%s: %w", filepath.Base(c.name), err)
	}

	if info, err := os.Stat(tmp); err != nil || info.Size() == 0 {
		return fmt.Errorf("%s produced no output", filepath.Base(c.name))
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		return fmt.Errorf("move output into place: %w", err)
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
