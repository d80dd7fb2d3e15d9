package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("existing file inside", func(t *testing.T) {
		inside := filepath.Join(tmpDir, "plots", "track.png")
		require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0755))
		require.NoError(t, os.WriteFile(inside, []byte("png"), 0644))
		assert.NoError(t, ValidatePathWithinDirectory(inside, tmpDir))
	})

	t.Run("nonexistent file inside", func(t *testing.T) {
		assert.NoError(t, ValidatePathWithinDirectory(filepath.Join(tmpDir, "new", "file.png"), tmpDir))
	})

	t.Run("dotdot escape", func(t *testing.T) {
		err := ValidatePathWithinDirectory(filepath.Join(tmpDir, "..", "escape.png"), tmpDir)
		assert.Error(t, err)
	})

	t.Run("absolute path outside", func(t *testing.T) {
		other := t.TempDir()
		err := ValidatePathWithinDirectory(filepath.Join(other, "file.png"), tmpDir)
		assert.Error(t, err)
	})

	t.Run("symlinked parent escaping", func(t *testing.T) {
		outside := t.TempDir()
		link := filepath.Join(tmpDir, "link")
		require.NoError(t, os.Symlink(outside, link))
		err := ValidatePathWithinDirectory(filepath.Join(link, "file.png"), tmpDir)
		assert.Error(t, err)
	})

	t.Run("missing safe dir", func(t *testing.T) {
		err := ValidatePathWithinDirectory(filepath.Join(tmpDir, "file.png"), filepath.Join(tmpDir, "nope"))
		assert.Error(t, err)
	})
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain id", "TAG_001", "TAG_001"},
		{"spaces and slashes", "tag one/two", "tag_one_two"},
		{"empty", "", "unknown"},
		{"only junk", "///", "unknown"},
		{"collapses runs", "a   b", "a_b"},
		{"trims edges", "..tag..", "tag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}
