//go:build linux

package batch

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/cespare/xxhash"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	})))
	os.Exit(m.Run())
}

func writeFiles(t *testing.T, contents map[string][]byte) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(contents))
	for name, data := range contents {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

func Test_Runner_Concrete_Pair(t *testing.T) {
	paths := writeFiles(t, map[string][]byte{
		"a.txt": []byte("abcd"),
		"b.txt": {},
	})

	table, err := NewRunner(Config{}).Run(paths)
	defer table.Close()
	assert.NoError(t, err)

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 2, table.Submitted)
	assert.Equal(t, 0, table.Failed())

	// paths sorted, so a.txt is entry 0
	assert.Equal(t, 4, table.Outcome(0).Bytes)
	assert.True(t, slices.Equal([]byte("abcd"), table.Request(0).Buf[:4]))
	assert.Equal(t, xxhash.Sum64([]byte("abcd")), table.Digest(0))

	assert.Equal(t, 0, table.Outcome(1).Bytes)
}

func Test_Runner_Zero_Files(t *testing.T) {
	table, err := NewRunner(Config{}).Run(nil)
	defer table.Close()

	assert.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 0, table.Submitted)
}

func Test_Runner_Fail_Fast_On_Missing(t *testing.T) {
	paths := writeFiles(t, map[string][]byte{"ok.txt": []byte("fine")})
	paths = append(paths, filepath.Join(t.TempDir(), "missing.txt"))

	table, err := NewRunner(Config{Policy: FailFast}).Run(paths)
	defer table.Close()

	assert.ErrorIs(t, err, unix.ENOENT)
	// nothing was submitted before the abort
	assert.Equal(t, 0, table.Submitted)
}

func Test_Runner_Best_Effort_On_Missing(t *testing.T) {
	paths := writeFiles(t, map[string][]byte{"ok.txt": []byte("fine")})
	paths = append(paths, filepath.Join(t.TempDir(), "missing.txt"))

	table, err := NewRunner(Config{Policy: BestEffort}).Run(paths)
	defer table.Close()
	assert.NoError(t, err)

	assert.Equal(t, 2, table.Len())
	assert.Equal(t, 1, table.Submitted)
	assert.Equal(t, 1, table.Failed())

	assert.Equal(t, 4, table.Outcome(0).Bytes)
	assert.True(t, slices.Equal([]byte("fine"), table.Request(0).Buf[:4]))
	assert.ErrorIs(t, table.Outcome(1).Err, unix.ENOENT)
}

func Test_Runner_Many_Sizes(t *testing.T) {
	const COUNT = 32

	contents := make(map[string][]byte, COUNT)
	for i := range COUNT {
		data := make([]byte, rand.IntN(0x2000))
		for j := range data {
			data[j] = byte(rand.Uint32())
		}
		contents[fmt.Sprintf("f%02d.dat", i)] = data
	}
	paths := writeFiles(t, contents)

	table, err := NewRunner(Config{DrainTimeout: 10 * time.Second}).Run(paths)
	defer table.Close()
	assert.NoError(t, err)

	assert.Equal(t, COUNT, table.Len())
	assert.Equal(t, COUNT, table.Submitted)
	assert.Equal(t, 0, table.Failed())

	for i := range COUNT {
		req, out := table.Request(i), table.Outcome(i)
		want := contents[filepath.Base(req.Path)]
		assert.Equal(t, len(want), out.Bytes)
		assert.Equal(t, xxhash.Sum64(want), table.Digest(i))
	}
}
