package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogInterceptor_PrefixesCompleteLines(t *testing.T) {
	var out bytes.Buffer
	li := NewLogInterceptor(&out)

	n, err := li.Write([]byte("first\nsecond\npart"))
	require.NoError(t, err)
	assert.Equal(t, len("first\nsecond\npart"), n)

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "line=1 time="))
	assert.True(t, strings.HasSuffix(lines[0], " first"))
	assert.True(t, strings.HasPrefix(lines[1], "line=2 time="))

	_, err = li.Write([]byte("ial\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), " partial\n")
}

func TestLogInterceptor_CloseFlushesRemainder(t *testing.T) {
	var out bytes.Buffer
	li := NewLogInterceptor(&out)

	_, err := li.Write([]byte("tail"))
	require.NoError(t, err)
	assert.Empty(t, out.String())

	require.NoError(t, li.Close())
	assert.True(t, strings.HasSuffix(out.String(), " tail\n"))
	assert.Contains(t, out.String(), "line=1")
}
