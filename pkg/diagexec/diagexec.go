// Package diagexec implements the remote diagnostic interface by shelling
// out to an external collector command. The collector owns the transport to
// the endpoints (WinRM, SSH, an agent); fleetaudit only cares about the
// answers.
//
// Invocation contract: <command> [base args...] <op> <host> [op args...].
// The collector prints the result to stdout and exits 0. Exit code 2 means
// the endpoint denied access; any other non-zero exit is a collection error.
package diagexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/fleetaudit/fleetaudit/pkg/directory"
)

// exitAccessDenied is the collector exit code reserved for permission
// failures on the endpoint.
const exitAccessDenied = 2

// Collector is a Diag backed by an external collector command.
type Collector struct {
	command  string
	baseArgs []string
}

// New builds a Collector. baseArgs are prepended to every invocation
// (credentials file, transport selection).
func New(command string, baseArgs ...string) (*Collector, error) {
	if command == "" {
		return nil, fmt.Errorf("collector command cannot be empty")
	}
	return &Collector{command: command, baseArgs: baseArgs}, nil
}

func (c *Collector) run(ctx context.Context, op, host string, opArgs ...string) (string, error) {
	args := slices.Clone(c.baseArgs)
	args = append(args, op, host)
	args = append(args, opArgs...)

	cmd := exec.CommandContext(ctx, c.command, args...)
	// Without a wait delay a killed collector's children keep the stdout
	// pipe open and Output blocks until they exit on their own.
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == exitAccessDenied {
			return "", fmt.Errorf("collector %s on %s: %w", op, host, os.ErrPermission)
		}
		if msg := firstLine(stderr.String()); msg != "" {
			return "", fmt.Errorf("collector %s on %s: %s", op, host, msg)
		}
		return "", fmt.Errorf("collector %s on %s: %w", op, host, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ServiceStatus reports the state of a named service.
func (c *Collector) ServiceStatus(ctx context.Context, host, service string) (directory.ServiceState, error) {
	out, err := c.run(ctx, "service-status", host, service)
	if err != nil {
		return directory.ServiceUnknown, err
	}
	switch state := directory.ServiceState(out); state {
	case directory.ServiceRunning, directory.ServiceStopped, directory.ServiceUnknown:
		return state, nil
	default:
		return directory.ServiceUnknown, fmt.Errorf("collector returned unknown service state %q", out)
	}
}

// PathExists reports whether a path exists on the host.
func (c *Collector) PathExists(ctx context.Context, host, path string) (bool, error) {
	out, err := c.run(ctx, "path-exists", host, path)
	if err != nil {
		return false, err
	}
	exists, err := cast.ToBoolE(out)
	if err != nil {
		return false, fmt.Errorf("collector returned malformed path-exists answer %q", out)
	}
	return exists, nil
}

// FreeSpace returns free and total bytes of the volume holding path. The
// collector answers with two integers separated by whitespace.
func (c *Collector) FreeSpace(ctx context.Context, host, path string) (int64, int64, error) {
	out, err := c.run(ctx, "free-space", host, path)
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Fields(out)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("collector returned malformed free-space answer %q", out)
	}
	free, ferr := cast.ToInt64E(parts[0])
	total, terr := cast.ToInt64E(parts[1])
	if ferr != nil || terr != nil {
		return 0, 0, fmt.Errorf("collector returned malformed free-space answer %q", out)
	}
	return free, total, nil
}

// FileInfo returns size and modification time of a file. The collector
// answers with the size and an RFC 3339 timestamp.
func (c *Collector) FileInfo(ctx context.Context, host, path string) (int64, time.Time, error) {
	out, err := c.run(ctx, "file-info", host, path)
	if err != nil {
		return 0, time.Time{}, err
	}
	parts := strings.Fields(out)
	if len(parts) != 2 {
		return 0, time.Time{}, fmt.Errorf("collector returned malformed file-info answer %q", out)
	}
	size, serr := cast.ToInt64E(parts[0])
	if serr != nil {
		return 0, time.Time{}, fmt.Errorf("collector returned malformed file size %q", parts[0])
	}
	mod, merr := time.Parse(time.RFC3339, parts[1])
	if merr != nil {
		return 0, time.Time{}, fmt.Errorf("collector returned malformed modification time %q", parts[1])
	}
	return size, mod, nil
}

// Counter samples a performance counter.
func (c *Collector) Counter(ctx context.Context, host, counter string) (float64, error) {
	out, err := c.run(ctx, "counter", host, counter)
	if err != nil {
		return 0, err
	}
	v, err := cast.ToFloat64E(out)
	if err != nil {
		return 0, fmt.Errorf("collector returned malformed counter value %q", out)
	}
	return v, nil
}

// ConsistencyCheck invokes the endpoint's consistency-check tool for one
// named test. The first output line is "passed" or "failed"; the remainder
// is the tool's raw output.
func (c *Collector) ConsistencyCheck(ctx context.Context, host, test string) (bool, string, error) {
	out, err := c.run(ctx, "consistency", host, test)
	if err != nil {
		return false, "", err
	}
	verdict, rest, _ := strings.Cut(out, "\n")
	switch strings.TrimSpace(verdict) {
	case "passed":
		return true, strings.TrimSpace(rest), nil
	case "failed":
		return false, strings.TrimSpace(rest), nil
	default:
		return false, "", fmt.Errorf("collector returned unknown consistency verdict %q", verdict)
	}
}

type systemInfoDTO struct {
	BootTime   time.Time `json:"boot_time"`
	SystemTime time.Time `json:"system_time"`
	OSVersion  string    `json:"os_version"`
}

// SystemInfo returns boot time, system time, and OS version as JSON.
func (c *Collector) SystemInfo(ctx context.Context, host string) (*directory.SystemInfo, error) {
	out, err := c.run(ctx, "system-info", host)
	if err != nil {
		return nil, err
	}
	var dto systemInfoDTO
	if err := json.Unmarshal([]byte(out), &dto); err != nil {
		return nil, fmt.Errorf("collector returned malformed system-info answer: %w", err)
	}
	return &directory.SystemInfo{
		BootTime:   dto.BootTime,
		SystemTime: dto.SystemTime,
		OSVersion:  dto.OSVersion,
	}, nil
}

// RegistryValue reads a configuration value from the host.
func (c *Collector) RegistryValue(ctx context.Context, host, key, value string) (string, error) {
	return c.run(ctx, "registry", host, key, value)
}

// ReplicationStatus lists inbound replication links as a JSON array.
func (c *Collector) ReplicationStatus(ctx context.Context, host string) ([]directory.ReplicationLink, error) {
	out, err := c.run(ctx, "replication", host)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var links []directory.ReplicationLink
	if err := json.Unmarshal([]byte(out), &links); err != nil {
		return nil, fmt.Errorf("collector returned malformed replication answer: %w", err)
	}
	return links, nil
}

// LastBackup returns the most recent backup time. The collector answers
// with an RFC 3339 timestamp, or "never".
func (c *Collector) LastBackup(ctx context.Context, host string) (time.Time, error) {
	out, err := c.run(ctx, "last-backup", host)
	if err != nil {
		return time.Time{}, err
	}
	if strings.EqualFold(out, "never") {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, out)
	if err != nil {
		return time.Time{}, fmt.Errorf("collector returned malformed backup time %q", out)
	}
	return t, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
