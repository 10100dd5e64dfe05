package loader

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSources(t *testing.T) {
	t.Parallel()

	t.Run("DependenciesFirst", func(t *testing.T) {
		t.Parallel()
		_, pkgs, err := FromSources(Sources{
			"example.com/app": {"app.go": "package app\n\nimport \"example.com/lib\"\n\nvar _ lib.T\n"},
			"example.com/lib": {"lib.go": "package lib\n\nimport \"strings\"\n\ntype T struct{ b strings.Builder }\n"},
		})
		require.NoError(t, err)
		require.Len(t, pkgs, 2)
		assert.Equal(t, "example.com/lib", pkgs[0].Path)
		assert.Equal(t, "example.com/app", pkgs[1].Path)
		for _, p := range pkgs {
			assert.True(t, p.Root)
			assert.True(t, p.HasSyntax())
			assert.NotNil(t, p.Types)
			assert.NotNil(t, p.Info)
		}
		assert.Equal(t, "lib", pkgs[0].Name)
	})

	t.Run("TypeError", func(t *testing.T) {
		t.Parallel()
		_, _, err := FromSources(Sources{"example.com/app": {"app.go": "package app\n\nvar x int = \"s\"\n"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "type-checking example.com/app")
	})

	t.Run("SyntaxError", func(t *testing.T) {
		t.Parallel()
		_, _, err := FromSources(Sources{"example.com/app": {"app.go": "package app\n\ntype {\n"}})
		assert.Error(t, err)
	})

	t.Run("ImportCycle", func(t *testing.T) {
		t.Parallel()
		_, _, err := FromSources(Sources{
			"example.com/a": {"a.go": "package a\n\nimport _ \"example.com/b\"\n"},
			"example.com/b": {"b.go": "package b\n\nimport _ \"example.com/a\"\n"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "import cycle")
	})
}

func TestParseOnly(t *testing.T) {
	t.Parallel()

	_, pkgs, err := ParseOnly(Sources{
		"example.com/app": {
			"b.go": "package app\n\ntype B struct{}\n",
			"a.go": "package app\n\nimport \"example.com/missing\"\n\nvar _ missing.T\n",
		},
	})
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	assert.Equal(t, "app", pkgs[0].Name)
	assert.Nil(t, pkgs[0].Types)
	require.Len(t, pkgs[0].Files, 2)
	assert.Equal(t, `"example.com/missing"`, pkgs[0].Files[0].Imports[0].Path.Value)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := map[string]string{
		"go.mod":          "module example.com/app\n\ngo 1.22\n",
		"app.go":          "package app\n\nimport \"example.com/app/lib\"\n\nvar _ lib.T\n",
		"lib/lib.go":      "package lib\n\ntype T struct{}\n",
		"lib/lib_test.go": "package lib\n\nimport \"testing\"\n\nfunc TestT(t *testing.T) {}\n",
	}
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	t.Run("AllPackages", func(t *testing.T) {
		t.Parallel()
		_, pkgs, err := Load(t.Context(), Config{Dir: dir, Log: log})
		require.NoError(t, err)

		roots := make(map[string]bool)
		for _, p := range pkgs {
			if p.Root {
				roots[p.Path] = true
				assert.True(t, p.HasSyntax(), p.Path)
			}
		}
		assert.Equal(t, map[string]bool{"example.com/app": true, "example.com/app/lib": true}, roots)
	})

	t.Run("DependencyIsNotRoot", func(t *testing.T) {
		t.Parallel()
		_, pkgs, err := Load(t.Context(), Config{Dir: dir, Patterns: []string{"."}, Log: log})
		require.NoError(t, err)

		byPath := make(map[string]bool)
		for _, p := range pkgs {
			byPath[p.Path] = p.Root
		}
		assert.True(t, byPath["example.com/app"])
		root, ok := byPath["example.com/app/lib"]
		require.True(t, ok)
		assert.False(t, root)
	})

	t.Run("BrokenPackage", func(t *testing.T) {
		t.Parallel()
		broken := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(broken, "go.mod"), []byte("module example.com/broken\n\ngo 1.22\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(broken, "b.go"), []byte("package broken\n\nvar x int = \"s\"\n"), 0o644))

		_, _, err := Load(t.Context(), Config{Dir: broken, Log: log})
		assert.Error(t, err)
	})
}
