package archive

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name    string
	content string
}

func buildZip(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if e.content != "" {
			_, err = w.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	data := buildZip(t,
		entry{name: "app.py", content: "print('hi')\n"},
		entry{name: "static/"},
		entry{name: "static/index.html", content: "<html></html>"},
		entry{name: "./lib/../lib/util.py", content: "x = 1"},
	)

	bundle, err := Extract(data, 0)
	require.NoError(t, err)
	require.Len(t, bundle, 3)

	assert.Equal(t, "app.py", bundle[0].Path)
	assert.Equal(t, []byte("print('hi')\n"), bundle[0].Content)
	assert.Equal(t, "static/index.html", bundle[1].Path)
	assert.Equal(t, "lib/util.py", bundle[2].Path)
	assert.EqualValues(t, len("print('hi')\n")+len("<html></html>")+len("x = 1"), bundle.Size())
}

func TestExtractEmptyFile(t *testing.T) {
	bundle, err := Extract(buildZip(t, entry{name: "empty.txt"}), 0)
	require.NoError(t, err)
	require.Len(t, bundle, 1)
	assert.Empty(t, bundle[0].Content)
}

func TestExtractRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{name: "not a zip", data: []byte("definitely not a zip archive"), err: ErrInvalidArchive},
		{name: "empty input", data: nil, err: ErrInvalidArchive},
		{name: "parent escape", data: buildZip(t, entry{name: "../etc/passwd", content: "x"}), err: ErrInvalidArchive},
		{name: "absolute path", data: buildZip(t, entry{name: "/etc/passwd", content: "x"}), err: ErrInvalidArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.data, 0)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestExtractLimit(t *testing.T) {
	data := buildZip(t,
		entry{name: "a.txt", content: "12345"},
		entry{name: "b.txt", content: "67890"},
	)

	_, err := Extract(data, 10)
	require.NoError(t, err)

	_, err = Extract(data, 9)
	assert.ErrorIs(t, err, ErrTooLarge)
}
