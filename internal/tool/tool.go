// Package tool runs the external programs that clusterseq treats as black
// boxes: read correction, all-vs-all similarity, alignment, polishing,
// secondary clustering and classification.
package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"v.io/x/lib/lookpath"
)

// stderrTail is the number of trailing stderr bytes kept for error messages.
const stderrTail = 2048

// Runner resolves and runs external programs.
type Runner struct {
	// Env is the environment used to resolve program names and passed to the
	// programs. If nil, the process environment is used.
	Env map[string]string
}

// NewRunner returns a Runner that uses the process environment.
func NewRunner() *Runner {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return &Runner{Env: env}
}

// Look resolves a program name to an absolute path. Names containing a path
// separator are returned as is.
func (r *Runner) Look(name string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		return name, nil
	}
	path, err := lookpath.Look(r.Env, name)
	if err != nil {
		return "", errors.E(errors.NotExist, fmt.Sprintf("program %s not found in PATH", name), err)
	}
	return path, nil
}

// Run runs name with args in dir. If stdout is non-nil, the program's
// standard output is copied to it. A context deadline is reported as
// errors.Timeout and a program killed by a signal as errors.Unavailable, so
// that callers can treat both as a budget overrun.
func (r *Runner) Run(ctx context.Context, dir string, stdout io.Writer, name string, args ...string) error {
	path, err := r.Look(name)
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if r.Env != nil {
		for k, v := range r.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	log.Debug.Printf("%s: running %s %s", dir, name, strings.Join(args, " "))
	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return errors.E(errors.Timeout, fmt.Sprintf("%s: deadline exceeded", name), ctx.Err())
	}
	if ctx.Err() == context.Canceled {
		return errors.E(errors.Canceled, name, ctx.Err())
	}
	if err != nil {
		msg := stderr.Bytes()
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}
		desc := fmt.Sprintf("%s %s: %s", name, strings.Join(args, " "), bytes.TrimSpace(msg))
		if killed(err) {
			// Usually the OOM killer; a retry with more memory may succeed.
			return errors.E(errors.Unavailable, desc, err)
		}
		return errors.E(desc, err)
	}
	return nil
}

// killed tells whether a program was terminated by a signal.
func killed(err error) bool {
	ee, ok := err.(*exec.ExitError)
	return ok && ee.ProcessState != nil && ee.ProcessState.ExitCode() == -1
}

// RunToFile runs the program and stores its standard output in outPath.
func (r *Runner) RunToFile(ctx context.Context, dir, outPath string, name string, args ...string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	once := errors.Once{}
	once.Set(r.Run(ctx, dir, out, name, args...))
	once.Set(out.Close())
	return once.Err()
}

// UnitDir returns the working directory for one attempt at one cluster of a
// sample, below root. Every attempt gets its own directory, so a retry never
// observes partial outputs of an earlier attempt. The sample name is
// fingerprinted since sample identifiers may contain characters that are not
// safe in paths.
func UnitDir(root, sampleID string, groupID, attempt int) string {
	key := strconv.FormatUint(farm.Fingerprint64([]byte(sampleID)), 16)
	return filepath.Join(root, key, fmt.Sprintf("g%d-a%d", groupID, attempt))
}

// MakeUnitDir creates a fresh UnitDir. Leftovers from an earlier run with the
// same path are removed first.
func MakeUnitDir(root, sampleID string, groupID, attempt int) (string, error) {
	dir := UnitDir(root, sampleID, groupID, attempt)
	if err := os.RemoveAll(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
