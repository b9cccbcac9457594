package cmdutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// ErrEmptyCommand is returned when no command parts are given.
var ErrEmptyCommand = errors.New("empty command")

// ExecOptions configures command execution.
type ExecOptions struct {
	// Dir is the working directory for the command.
	Dir string

	// Timeout is the maximum execution time.
	// If zero, no timeout is applied.
	Timeout time.Duration

	// Env holds extra "KEY=value" entries appended to the current environment.
	Env []string

	// CombinedOutput merges stdout and stderr into Result.Output.
	CombinedOutput bool

	// Stdout streams standard output to a writer instead of buffering it.
	// Used for large dumps. Ignored when CombinedOutput is set.
	Stdout io.Writer
}

// Result contains the result of a command execution.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	Output   []byte // only with CombinedOutput
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// OK reports whether the command exited with code zero.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// Text returns the most useful output of the command as a trimmed string.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	if len(r.Output) > 0 {
		return strings.TrimSpace(string(r.Output))
	}
	out := strings.TrimSpace(string(r.Stdout))
	if errOut := strings.TrimSpace(string(r.Stderr)); errOut != "" {
		if out != "" {
			out += "\n"
		}
		out += errOut
	}
	return out
}

// Run executes a command with the given options.
// The returned Result is never nil, even on error, so callers can inspect output.
func Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	result := &Result{ExitCode: -1}
	if len(cmdParts) == 0 {
		return result, ErrEmptyCommand
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cmdParts[0], cmdParts[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr, combined strings.Builder
	if opts.CombinedOutput {
		cmd.Stdout = &combined
		cmd.Stderr = &combined
	} else {
		if opts.Stdout != nil {
			cmd.Stdout = opts.Stdout
		} else {
			cmd.Stdout = &stdout
		}
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)

	if opts.CombinedOutput {
		result.Output = []byte(combined.String())
	} else {
		result.Stdout = []byte(stdout.String())
		result.Stderr = []byte(stderr.String())
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return result, fmt.Errorf("command timed out after %s: %s", opts.Timeout, FormatCommand(cmdParts))
	}
	if err != nil {
		return result, fmt.Errorf("command failed: %w", err)
	}

	return result, nil
}

// Output runs a command in dir and returns its trimmed stdout.
// Stderr is folded into the error message on failure.
func Output(ctx context.Context, dir string, timeout time.Duration, cmdParts ...string) (string, error) {
	result, err := Run(ctx, ExecOptions{Dir: dir, Timeout: timeout}, cmdParts)
	if err != nil {
		if msg := strings.TrimSpace(string(result.Stderr)); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// ParseCommandString parses a shell-quoted command string into parts.
//
// Example:
//
//	"go test -run \"TestA|TestB\" ./..." -> ["go", "test", "-run", "TestA|TestB", "./..."]
func ParseCommandString(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command string")
	}
	return parts, nil
}

// ParseCommandList parses a command decoded from YAML, which is either a
// single string or a list of strings.
func ParseCommandList(cmd interface{}) ([]string, error) {
	switch v := cmd.(type) {
	case string:
		return ParseCommandString(v)
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command list item %d is not a string: %T", i, item)
			}
			parts[i] = str
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		return parts, nil
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("invalid command type: %T (must be string or list)", cmd)
	}
}

// FormatCommand formats command parts into a readable string for logging.
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// Redact replaces every occurrence of the given secrets in s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "***REDACTED***")
		}
	}
	return s
}
