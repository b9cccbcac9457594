package templates

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Template names
const (
	PreCommitHook    = "pre-commit-hook"
	PostCommitHook   = "post-commit-hook"
	BoundariesPolicy = "boundaries-policy"
)

// HookMarker identifies hook scripts written by opsgate.
const HookMarker = "opsgate-managed-hook"

//go:embed defaults/*.template
var defaults embed.FS

// TemplateData holds variables for template rendering.
type TemplateData map[string]string

// GetTemplatePaths returns the override search paths for a template.
func GetTemplatePaths(templateName string) []string {
	filename := templateName + ".template"
	return []string{
		filepath.Join(".", "templates", filename),
		filepath.Join(".", "config", "templates", filename),
		filepath.Join("/etc", "opsgate", "templates", filename),
	}
}

// GetTemplate returns the raw template content by name.
// Overrides are looked up in the following order, falling back to the
// built-in template:
// 1. ./templates/<name>.template
// 2. ./config/templates/<name>.template
// 3. /etc/opsgate/templates/<name>.template
func GetTemplate(name string) (string, error) {
	if !ValidateTemplate(name) {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	for _, path := range GetTemplatePaths(name) {
		if content, err := os.ReadFile(path); err == nil {
			return string(content), nil
		}
	}

	content, err := defaults.ReadFile("defaults/" + name + ".template")
	if err != nil {
		return "", fmt.Errorf("built-in template missing: %s: %w", name, err)
	}
	return string(content), nil
}

// Render renders a template with the given data.
// Uses {{PLACEHOLDER}} syntax for variable substitution; MARKER is always set.
func Render(templateName string, data TemplateData) (string, error) {
	tmplContent, err := GetTemplate(templateName)
	if err != nil {
		return "", err
	}

	rendered := strings.ReplaceAll(tmplContent, "{{MARKER}}", HookMarker)
	for key, value := range data {
		rendered = strings.ReplaceAll(rendered, fmt.Sprintf("{{%s}}", key), value)
	}

	return rendered, nil
}

// RenderHook renders the script for a git hook ("pre-commit" or "post-commit").
func RenderHook(hook, binary, stateDir string) (string, error) {
	return Render(hook+"-hook", TemplateData{
		"BINARY":    binary,
		"STATE_DIR": stateDir,
	})
}

// RenderPolicy renders the starter boundary policy. stateDir is relative to
// the project root.
func RenderPolicy(stateDir string) (string, error) {
	return Render(BoundariesPolicy, TemplateData{"STATE_DIR": stateDir})
}

// IsManaged reports whether a hook script was written by opsgate.
func IsManaged(script []byte) bool {
	return strings.Contains(string(script), HookMarker)
}

// ListTemplates returns a list of all available template names.
func ListTemplates() []string {
	return []string{
		PreCommitHook,
		PostCommitHook,
		BoundariesPolicy,
	}
}

// ValidateTemplate checks if a template name is valid.
func ValidateTemplate(name string) bool {
	for _, known := range ListTemplates() {
		if name == known {
			return true
		}
	}
	return false
}
