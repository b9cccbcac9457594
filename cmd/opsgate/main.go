package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Will be set during build

var (
	configFile string
	stateDir   string
)

var rootCmd = &cobra.Command{
	Use:   "opsgate",
	Short: "Deployment safety gate",
	Long: `Opsgate guards commits and deployments of a git-managed project.

It blocks commits that leak secrets or touch protected paths, gates pushes to
staging and production behind pre-flight checks, keeps backups and rolls back
failed deployments.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Custom usage template that encourages 'help' subcommand pattern
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} help [command]" for more information about a command.{{end}}
`

// ExitError ends the process with exit code 1 once the command has
// reported the outcome itself, e.g. a denied boundary check. Message, when
// set, is printed as a final line without the "Error:" prefix.
type ExitError struct {
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the command line and returns the process exit code.
func run(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	switch {
	case !errors.As(err, &exitErr):
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	case exitErr.Message != "":
		fmt.Fprintln(rootCmd.ErrOrStderr(), exitErr.Message)
	}
	return 1
}

func init() {
	// Set custom usage template to encourage 'help' subcommand pattern
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to opsgate.yaml (default: search ./, ./config/, /etc/opsgate/)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "State directory (default: state_dir from config, .opsgate)")

	// Register subcommands
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(securityCmd)
	rootCmd.AddCommand(boundaryCheckCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
