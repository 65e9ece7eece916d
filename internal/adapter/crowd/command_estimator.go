package crowd

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/order-stream/internal/core/domain"
)

const defaultTimeout = 20 * time.Second

// CommandEstimator runs an external program that prints a single number on
// stdout, such as a camera-based people counter.
type CommandEstimator struct {
	name    string
	args    []string
	timeout time.Duration
}

func NewCommandEstimator(timeout time.Duration, name string, args ...string) *CommandEstimator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CommandEstimator{name: name, args: args, timeout: timeout}
}

// ParseCommand splits a command line on whitespace. Quoting is not supported.
func ParseCommand(line string) (string, []string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, false
	}
	return fields[0], fields[1:], true
}

func (c *CommandEstimator) Estimate(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%w: run %s: %v: %s", domain.ErrEstimatorUnavailable, c.name, err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimSpace(stdout.String())
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = strings.TrimSpace(out[i+1:])
	}
	v, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse output %q: %v", domain.ErrEstimatorUnavailable, out, err)
	}
	return v, nil
}
