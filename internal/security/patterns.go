package security

import "regexp"

// SecretPattern is a named credential regex.
type SecretPattern struct {
	// Kind names the credential type reported in findings.
	Kind string

	// Description explains what this pattern detects.
	Description string

	re *regexp.Regexp
}

// NewSecretPattern compiles a case-insensitive pattern.
func NewSecretPattern(kind, description, expr string) (SecretPattern, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return SecretPattern{}, err
	}
	return SecretPattern{Kind: kind, Description: description, re: re}, nil
}

func mustPattern(kind, description, expr string) SecretPattern {
	p, err := NewSecretPattern(kind, description, expr)
	if err != nil {
		panic(err)
	}
	return p
}

// FindAll returns the byte ranges of every match in line.
func (p SecretPattern) FindAll(line string) [][]int {
	if p.re == nil {
		return nil
	}
	return p.re.FindAllStringIndex(line, -1)
}

// DefaultSecretPatterns returns the built-in pattern table.
func DefaultSecretPatterns() []SecretPattern {
	return []SecretPattern{
		mustPattern("api_key", "Generic API key assignment",
			`api[_-]?key["']?\s*[:=]\s*["']?[a-z0-9_\-]{16,}`),
		mustPattern("bearer_token", "Bearer token in a header or string",
			`bearer\s+[a-z0-9_\-\.=]{20,}`),
		mustPattern("aws_access_key", "AWS access key ID",
			`\b(?:akia|asia)[0-9a-z]{16}\b`),
		mustPattern("github_token", "GitHub personal or app token",
			`\bgh[pousr]_[a-z0-9]{36,}\b`),
		mustPattern("slack_token", "Slack token",
			`\bxox[abprs]-[a-z0-9-]{10,}`),
		mustPattern("stripe_key", "Stripe secret or restricted key",
			`\b[sr]k_(?:live|test)_[a-z0-9]{16,}`),
		mustPattern("telegram_bot_token", "Telegram bot API token",
			`\b\d{8,10}:[a-z0-9_-]{35}\b`),
		mustPattern("supabase_key", "Supabase service or anon key",
			`supabase[a-z_]*key["']?\s*[:=]\s*["']?eyj[a-z0-9_-]+\.[a-z0-9_-]+\.[a-z0-9_-]+`),
		mustPattern("jwt", "JSON Web Token",
			`\beyj[a-z0-9_-]{10,}\.eyj[a-z0-9_-]{10,}\.[a-z0-9_-]{10,}`),
		mustPattern("private_key", "PEM private key block",
			`-----begin [a-z ]*private key-----`),
		mustPattern("password_assignment", "Hard-coded password",
			`pass(?:word|wd)?["']?\s*[:=]\s*["']?[^\s"']{6,}`),
		mustPattern("secret_assignment", "Hard-coded secret",
			`secret[a-z_]*["']?\s*[:=]\s*["']?[^\s"']{8,}`),
	}
}
