package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"opsgate/pkg/cmdutil"
)

// DefaultAllowedCommands are the programs pre-flight tests and backups may run.
var DefaultAllowedCommands = map[string]bool{
	"go":       true,
	"make":     true,
	"npm":      true,
	"npx":      true,
	"yarn":     true,
	"pnpm":     true,
	"node":     true,
	"python":   true,
	"python3":  true,
	"pytest":   true,
	"bundle":   true,
	"rake":     true,
	"cargo":    true,
	"php":      true,
	"composer": true,
	"pg_dump":  true,
}

// SandboxedExecutor runs allow-listed commands without a shell.
type SandboxedExecutor struct {
	// AllowedCommands is the map of commands that are permitted to run.
	AllowedCommands map[string]bool

	// WorkDir is the working directory for command execution.
	WorkDir string

	// Env holds extra "KEY=value" entries for the command.
	Env []string

	// Timeout bounds each execution. Zero means no timeout.
	Timeout time.Duration

	// AllowShellMetachars allows shell metacharacters in arguments.
	AllowShellMetachars bool
}

// NewSandboxedExecutor creates a new sandboxed executor with default settings.
func NewSandboxedExecutor(workDir string, timeout time.Duration) *SandboxedExecutor {
	allowed := make(map[string]bool, len(DefaultAllowedCommands))
	for cmd := range DefaultAllowedCommands {
		allowed[cmd] = true
	}
	return &SandboxedExecutor{
		AllowedCommands: allowed,
		WorkDir:         workDir,
		Timeout:         timeout,
	}
}

// Execute validates and runs a command with combined output.
// The result is non-nil whenever the command was started.
func (e *SandboxedExecutor) Execute(ctx context.Context, cmdParts []string) (*cmdutil.Result, error) {
	if err := e.ValidateCommandParts(cmdParts); err != nil {
		return nil, err
	}

	return cmdutil.Run(ctx, cmdutil.ExecOptions{
		Dir:            e.WorkDir,
		Timeout:        e.Timeout,
		Env:            e.Env,
		CombinedOutput: true,
	}, cmdParts)
}

// ValidateCommandParts validates a command before execution.
func (e *SandboxedExecutor) ValidateCommandParts(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return cmdutil.ErrEmptyCommand
	}

	baseCmd := cmdParts[0]
	if !e.AllowedCommands[baseCmd] {
		return fmt.Errorf("command not allowed: %s (must be one of: %s)",
			baseCmd, strings.Join(e.allowedCommandsList(), ", "))
	}

	if !e.AllowShellMetachars {
		for i, arg := range cmdParts[1:] {
			if containsShellMetachars(arg) {
				return fmt.Errorf("argument %d contains shell metacharacters: %s", i+1, arg)
			}
		}
	}

	return nil
}

// AddAllowedCommand adds a command to the allowed list.
func (e *SandboxedExecutor) AddAllowedCommand(cmd string) {
	if e.AllowedCommands == nil {
		e.AllowedCommands = make(map[string]bool)
	}
	e.AllowedCommands[cmd] = true
}

// IsCommandAllowed checks if a command is in the allowed list.
func (e *SandboxedExecutor) IsCommandAllowed(cmd string) bool {
	return e.AllowedCommands[cmd]
}

func (e *SandboxedExecutor) allowedCommandsList() []string {
	commands := make([]string, 0, len(e.AllowedCommands))
	for cmd := range e.AllowedCommands {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	return commands
}

// containsShellMetachars checks if a string contains characters a shell
// would interpret.
func containsShellMetachars(s string) bool {
	return strings.ContainsAny(s, ";|&$`\n><(){}*?[]\\'\"")
}
