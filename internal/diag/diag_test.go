package diag

import (
	"bytes"
	"errors"
	"fmt"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDiag struct {
	pos  token.Position
	code string
	msg  string
	err  error
}

func (d *testDiag) Error() string {
	if d.err != nil {
		return d.msg + ": " + d.err.Error()
	}
	return d.msg
}

func (d *testDiag) Unwrap() error            { return d.err }
func (d *testDiag) Position() token.Position { return d.pos }
func (d *testDiag) Code() string             { return d.code }

func pos(line int) token.Position {
	return token.Position{Filename: "app.go", Line: line, Column: 1, Offset: 1}
}

func TestCollect(t *testing.T) {
	t.Parallel()

	t.Run("Nil", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, Collect(nil))
	})

	t.Run("PlainError", func(t *testing.T) {
		t.Parallel()
		entries := Collect(errors.New("boom"))
		require.Len(t, entries, 1)
		assert.Equal(t, "error", entries[0].Code)
		assert.False(t, entries[0].Pos.IsValid())
	})

	t.Run("WrappedDiagnosticBecomesNote", func(t *testing.T) {
		t.Parallel()
		inner := &testDiag{pos: pos(7), code: "visibility", msg: "module is private"}
		outer := &testDiag{pos: pos(3), code: "visibility", msg: "merging AppComponent", err: inner}

		entries := Collect(fmt.Errorf("build: %w", outer))
		require.Len(t, entries, 1)
		assert.Equal(t, pos(3), entries[0].Pos)
		assert.Equal(t, "visibility", entries[0].Code)
		require.Len(t, entries[0].Notes, 1)
		assert.Equal(t, pos(7), entries[0].Notes[0].Pos)
	})

	t.Run("InnerWithoutPosition", func(t *testing.T) {
		t.Parallel()
		inner := &testDiag{code: "resolution", msg: "undeclared name"}
		outer := &testDiag{pos: pos(3), code: "resolution", msg: "merging AppComponent", err: inner}

		entries := Collect(outer)
		require.Len(t, entries, 1)
		assert.Empty(t, entries[0].Notes)
	})

	t.Run("Joined", func(t *testing.T) {
		t.Parallel()
		err := errors.Join(
			&testDiag{pos: pos(1), code: "a", msg: "first"},
			&testDiag{pos: pos(2), code: "b", msg: "second"},
		)
		entries := Collect(err)
		require.Len(t, entries, 2)
		assert.Equal(t, "a", entries[0].Code)
		assert.Equal(t, "b", entries[1].Code)
	})
}

func TestFprint(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	inner := &testDiag{pos: pos(7), code: "scope-mismatch", msg: "wrong scope"}
	n := Fprint(&buf, &testDiag{pos: pos(3), code: "scope-mismatch", msg: "merging", err: inner}, false)

	assert.Equal(t, 1, n)
	assert.Equal(t,
		"app.go:3:1: error[scope-mismatch]: merging: wrong scope\n"+
			"  note: app.go:7:1: wrong scope\n",
		buf.String())
}
