package security

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"opsgate/pkg/glob"
)

// binarySniffLen is how many leading bytes are checked for NUL.
const binarySniffLen = 8000

const maxSnippetLen = 120

// Finding is one pattern match on one line.
type Finding struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Kind    string `json:"kind"`
	Snippet string `json:"snippet"`
}

func (f Finding) String() string {
	return fmt.Sprintf("%s:%d: %s: %s", f.File, f.Line, f.Kind, f.Snippet)
}

// StagedLister lists files staged for commit, relative to the repo root.
type StagedLister interface {
	StagedFiles(ctx context.Context) ([]string, error)
}

// StagedContentReader returns the index copy of a staged path, which is
// what a commit records even when the working tree has changed since.
type StagedContentReader interface {
	StagedContent(ctx context.Context, path string) (io.Reader, error)
}

// Scanner finds credentials in files. It never modifies files and never
// decides policy; callers act on the findings.
type Scanner struct {
	root     string
	lister   StagedLister
	exclude  []glob.Pattern
	patterns []SecretPattern
}

// NewScanner creates a scanner rooted at root. lister may be nil when
// callers always pass explicit file lists.
func NewScanner(root string, lister StagedLister, exclude []string) (*Scanner, error) {
	compiled, err := glob.CompileAll(exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid scan exclude: %w", err)
	}
	return &Scanner{
		root:     root,
		lister:   lister,
		exclude:  compiled,
		patterns: DefaultSecretPatterns(),
	}, nil
}

// Scan checks files line by line. With nil files the staged set is used
// and read through ScanStaged. Missing files (e.g. staged deletions) are
// skipped.
func (s *Scanner) Scan(ctx context.Context, files []string) ([]Finding, error) {
	if files == nil {
		if s.lister == nil {
			return nil, fmt.Errorf("no file list given and no staged file source configured")
		}
		staged, err := s.lister.StagedFiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list staged files: %w", err)
		}
		return s.ScanStaged(ctx, staged)
	}
	return s.scan(ctx, files, func(file, display string) ([]Finding, error) {
		return s.scanFile(s.abs(file), display)
	})
}

// ScanStaged checks the index copy of each staged path when the staged
// file source can read it, and the working tree copy otherwise.
func (s *Scanner) ScanStaged(ctx context.Context, files []string) ([]Finding, error) {
	reader, ok := s.lister.(StagedContentReader)
	if !ok {
		return s.scan(ctx, files, func(file, display string) ([]Finding, error) {
			return s.scanFile(s.abs(file), display)
		})
	}
	return s.scan(ctx, files, func(_, display string) ([]Finding, error) {
		r, err := reader.StagedContent(ctx, display)
		if err != nil {
			return nil, fmt.Errorf("failed to read staged %s: %w", display, err)
		}
		return s.ScanReader(display, r)
	})
}

func (s *Scanner) scan(ctx context.Context, files []string, read func(file, display string) ([]Finding, error)) ([]Finding, error) {
	var findings []Finding
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return findings, err
		}

		display, err := RelativeTo(s.root, file)
		if err != nil {
			display = filepath.ToSlash(file)
		}
		if s.Excluded(display) {
			continue
		}

		fileFindings, err := read(file, display)
		if err != nil {
			return findings, err
		}
		findings = append(findings, fileFindings...)
	}

	return findings, nil
}

// ScanReader scans content that is not read from the working tree, e.g. a
// staged blob.
func (s *Scanner) ScanReader(name string, r io.Reader) ([]Finding, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(binarySniffLen)
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, nil
	}

	var findings []Finding
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			lineNo++
			findings = append(findings, s.scanLine(name, lineNo, strings.TrimRight(line, "\r\n"))...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return findings, fmt.Errorf("failed to read %s: %w", name, err)
		}
	}
	return findings, nil
}

// Excluded reports whether a relative path is skipped. Patterns without a
// slash match the base name anywhere in the tree.
func (s *Scanner) Excluded(rel string) bool {
	base := path.Base(glob.Normalize(rel))
	for _, p := range s.exclude {
		if p.Match(rel) {
			return true
		}
		if !p.HasSlash() && p.Match(base) {
			return true
		}
	}
	return false
}

func (s *Scanner) abs(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(s.root, file)
}

func (s *Scanner) scanFile(path, display string) ([]Finding, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", display, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", display, err)
	}
	if info.IsDir() {
		return nil, nil
	}

	return s.ScanReader(display, f)
}

func (s *Scanner) scanLine(file string, lineNo int, line string) []Finding {
	type match struct {
		kind       string
		start, end int
	}

	var matches []match
	for _, p := range s.patterns {
		for _, m := range p.FindAll(line) {
			matches = append(matches, match{kind: p.Kind, start: m[0], end: m[1]})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	// One snippet per line with every match masked, so no finding leaks
	// a secret another pattern caught.
	ranges := make([][2]int, len(matches))
	for i, m := range matches {
		ranges[i] = [2]int{m.start, m.end}
	}
	snippet := redact(line, ranges)

	findings := make([]Finding, len(matches))
	for i, m := range matches {
		findings[i] = Finding{File: file, Line: lineNo, Kind: m.kind, Snippet: snippet}
	}
	return findings
}

// redact masks every range of line, keeping a four character prefix of each
// so the credential type stays recognizable.
func redact(line string, ranges [][2]int) string {
	sort.Slice(ranges, func(i, j int) bool { return ranges[i][0] < ranges[j][0] })

	var b strings.Builder
	pos := 0
	for _, r := range ranges {
		start, end := r[0], r[1]
		if end <= pos {
			continue
		}
		if start < pos {
			start = pos
		}
		b.WriteString(line[pos:start])
		secret := line[start:end]
		if len(secret) > 8 {
			b.WriteString(truncateUTF8(secret, 4))
		}
		b.WriteString("********")
		pos = end
	}
	b.WriteString(line[pos:])

	snippet := strings.TrimSpace(b.String())
	if len(snippet) > maxSnippetLen {
		snippet = truncateUTF8(snippet, maxSnippetLen) + "..."
	}
	return snippet
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
