package io_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	internal_io "github.com/daytonaio/sdk-go/internal/io"
)

func TestSinkAll(t *testing.T) {
	r := strings.NewReader("hello world")
	require.NoError(t, internal_io.SinkAll(r))
	require.Equal(t, 0, r.Len())

	buf := bytes.NewBufferString("abc")
	require.NoError(t, internal_io.SinkAll(buf))
	require.Equal(t, 0, buf.Len())

	pr := io.MultiReader(strings.NewReader("a"), strings.NewReader("b"))
	require.NoError(t, internal_io.SinkAll(pr))
}

func TestReadLimited(t *testing.T) {
	r := strings.NewReader("0123456789")
	data, err := internal_io.ReadLimited(r, 4)
	require.NoError(t, err)
	require.Equal(t, "0123", string(data))
	require.Equal(t, 0, r.Len())
}

func TestPipe(t *testing.T) {
	rc := internal_io.Pipe(func(w io.Writer) error {
		_, err := io.WriteString(w, "payload")
		return err
	})
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))

	boom := errors.New("boom")
	rc = internal_io.Pipe(func(w io.Writer) error { return boom })
	_, err = io.ReadAll(rc)
	require.ErrorIs(t, err, boom)
}

func TestToValidUTF8(t *testing.T) {
	require.Equal(t, "a�b", internal_io.ToValidUTF8([]byte{'a', 0xff, 'b'}))
	require.Equal(t, "héllo", internal_io.ToValidUTF8([]byte("héllo")))
}
