package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"opsgate/pkg/cmdutil"
)

// Dumper writes a database dump to w.
type Dumper interface {
	Dump(ctx context.Context, w io.Writer) error
}

// PgDumper runs pg_dump against a connection URL.
type PgDumper struct {
	DatabaseURL string
	Timeout     time.Duration
	// Binary defaults to pg_dump.
	Binary string
}

func (d *PgDumper) Dump(ctx context.Context, w io.Writer) error {
	if d.DatabaseURL == "" {
		return errors.New("database backup requested but no database url configured")
	}
	binary := d.Binary
	if binary == "" {
		binary = "pg_dump"
	}

	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{Timeout: d.Timeout, Stdout: w},
		[]string{binary, "--no-owner", "--no-privileges", "--dbname=" + d.DatabaseURL})
	if err != nil {
		msg := err.Error()
		if stderr := strings.TrimSpace(string(result.Stderr)); stderr != "" {
			msg += ": " + stderr
		}
		return fmt.Errorf("pg_dump failed: %s", cmdutil.Redact(msg, d.DatabaseURL))
	}
	return nil
}
