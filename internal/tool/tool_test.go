package tool

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitDir(t *testing.T) {
	a := UnitDir("/work", "sample 1", 3, 0)
	b := UnitDir("/work", "sample 1", 3, 1)
	c := UnitDir("/work", "sample 2", 3, 0)
	expect.True(t, a != b, "attempts must not share a directory")
	expect.True(t, a != c, "samples must not share a directory")
	expect.EQ(t, a, UnitDir("/work", "sample 1", 3, 0))
	expect.EQ(t, filepath.Base(a), "g3-a0")
}

func TestMakeUnitDir(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	dir, err := MakeUnitDir(tempDir, "s", 1, 0)
	require.NoError(t, err)
	stale := filepath.Join(dir, "stale.fasta")
	require.NoError(t, os.WriteFile(stale, []byte(">x\nA\n"), 0644))

	dir2, err := MakeUnitDir(tempDir, "s", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, dir, dir2)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale outputs must be removed")
}

func TestRunMissingProgram(t *testing.T) {
	r := &Runner{Env: map[string]string{"PATH": "/nonexistent"}}
	err := r.Run(context.Background(), "", nil, "definitely-not-a-program")
	require.Error(t, err)
	assert.True(t, errors.Is(errors.NotExist, err))
}

func TestRun(t *testing.T) {
	r := NewRunner()
	if _, err := r.Look("sh"); err != nil {
		t.Skip("sh not available")
	}
	var out bytes.Buffer
	require.NoError(t, r.Run(context.Background(), "", &out, "sh", "-c", "echo hello"))
	assert.Equal(t, "hello\n", out.String())

	err := r.Run(context.Background(), "", nil, "sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = r.Run(ctx, "", nil, "sh", "-c", "sleep 5")
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Timeout, err))
}

func TestRunKilled(t *testing.T) {
	r := NewRunner()
	if _, err := r.Look("sh"); err != nil {
		t.Skip("sh not available")
	}
	err := r.Run(context.Background(), "", nil, "sh", "-c", "kill -9 $$")
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Unavailable, err))

	err = r.Run(context.Background(), "", nil, "sh", "-c", "exit 3")
	require.Error(t, err)
	assert.False(t, errors.Is(errors.Unavailable, err))
}
