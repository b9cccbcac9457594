package security

import (
	"path/filepath"
	"testing"
)

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		name    string
		branch  string
		wantErr bool
	}{
		// Valid cases
		{"main branch", "main", false},
		{"develop branch", "develop", false},
		{"feature branch", "feature/new-feature", false},
		{"release branch", "release/v1.0.0", false},
		{"with underscores", "my_feature_branch", false},

		// Invalid cases
		{"empty branch", "", true},
		{"starts with dash", "--force", true},
		{"double dot", "main..staging", true},
		{"lock suffix", "main.lock", true},
		{"trailing slash", "feature/", true},
		{"command injection semicolon", "main; rm -rf /", true},
		{"command injection dollar", "main$(whoami)", true},
		{"refspec colon", "HEAD:main", true},
		{"spaces", "my branch", true},
		{"newline", "main\nmalicious", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBranchName(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBranchName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRemoteName(t *testing.T) {
	tests := []struct {
		remote  string
		wantErr bool
	}{
		{"origin", false},
		{"upstream-2", false},
		{"", true},
		{"-u", true},
		{"origin/main", true},
		{"https://github.com/x/y", true},
	}

	for _, tt := range tests {
		if err := ValidateRemoteName(tt.remote); (err != nil) != tt.wantErr {
			t.Errorf("ValidateRemoteName(%q) error = %v, wantErr %v", tt.remote, err, tt.wantErr)
		}
	}
}

func TestValidateCommitSHA(t *testing.T) {
	tests := []struct {
		sha     string
		wantErr bool
	}{
		{"a1b2c3d", false},
		{"0123456789abcdef0123456789abcdef01234567", false},
		{"abc", true},
		{"HEAD", true},
		{"a1b2c3d; rm", true},
	}

	for _, tt := range tests {
		if err := ValidateCommitSHA(tt.sha); (err != nil) != tt.wantErr {
			t.Errorf("ValidateCommitSHA(%q) error = %v, wantErr %v", tt.sha, err, tt.wantErr)
		}
	}
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"simple file", "app/main.go", filepath.Join(base, "app", "main.go"), false},
		{"dot segments inside", "app/../README.md", filepath.Join(base, "README.md"), false},
		{"traversal", "../etc/passwd", "", true},
		{"nested traversal", "app/../../etc/passwd", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"empty", "", "", true},
		{"dotdot prefix name", "..hidden", filepath.Join(base, "..hidden"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeJoin(base, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SafeJoin() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SafeJoin() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRelativeTo(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"relative", "src/app.go", "src/app.go", false},
		{"dot slash and trailing slash", "./src/lib/", "src/lib", false},
		{"absolute inside", filepath.Join(root, "docs", "a.md"), "docs/a.md", false},
		{"root itself", ".", ".", false},
		{"outside", "../other/file", "", true},
		{"absolute outside", "/etc/passwd", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RelativeTo(root, tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RelativeTo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RelativeTo() = %q, want %q", got, tt.want)
			}
		})
	}
}

func BenchmarkValidateBranchName(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = ValidateBranchName("feature/my-branch-name")
	}
}
