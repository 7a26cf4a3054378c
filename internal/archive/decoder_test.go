package archive

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-etl/strata/api"
)

func gzipLines(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	for _, l := range lines {
		_, err := gw.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

const (
	lineAlice = `{"id":"1","type":"PushEvent","created_at":"2023-04-01T15:00:00Z","actor":{"id":1,"login":"alice"},"repo":{"id":7,"name":"octo/widgets"},"payload":{"size":1}}`
	lineBob   = `{"id":"2","type":"WatchEvent","created_at":"2023-04-01T15:01:00Z","actor":{"id":2,"login":"bob"},"repo":{"id":7,"name":"octo/widgets"},"payload":{"action":"started"}}`
)

func TestDecode(t *testing.T) {
	data := gzipLines(t,
		lineAlice,
		`{broken json`,
		"", // blank lines are not an error
		`"a string, not an object"`,
		`{"type":"PushEvent"}`, // missing id
		lineBob,
	)

	var got []*api.RawRecord
	var gotLines []uint32
	var skipped []uint32
	err := Decode(bytes.NewReader(data), "2023-04-01-15", func(line uint32, rec *api.RawRecord) error {
		got = append(got, rec)
		gotLines = append(gotLines, line)
		return nil
	}, func(line uint32, err error) {
		skipped = append(skipped, line)
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, []uint32{0, 5}, gotLines)
	assert.Equal(t, []uint32{1, 3, 4}, skipped)

	assert.Equal(t, "1", got[0].EventID)
	assert.Equal(t, "PushEvent", got[0].EventType)
	assert.Equal(t, "2023-04-01-15", got[0].SourceFile)
	assert.Equal(t, "2023-04-01T15:00:00Z", got[0].CreatedAt)
	assert.Len(t, got[0].Fingerprint, 64)
	assert.NotEqual(t, got[0].Fingerprint, got[1].Fingerprint)
}

func TestDecodeOversizedLineSkipped(t *testing.T) {
	// one runaway line must not take the rest of the file down with it
	long := strings.Repeat("x", maxLineBytes+2)
	data := gzipLines(t, lineAlice, long, lineBob)

	var ids []string
	var skipped []uint32
	err := Decode(bytes.NewReader(data), "f", func(line uint32, rec *api.RawRecord) error {
		ids = append(ids, rec.EventID)
		return nil
	}, func(line uint32, err error) {
		skipped = append(skipped, line)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
	assert.Equal(t, []uint32{1}, skipped)
}

func TestDecodeCorruptContainer(t *testing.T) {
	err := Decode(bytes.NewReader([]byte("not gzip at all")), "bad", func(uint32, *api.RawRecord) error {
		t.Fatal("callback must not run")
		return nil
	}, nil)
	require.Error(t, err)
}

func TestDecodeCallbackErrorStops(t *testing.T) {
	data := gzipLines(t, lineAlice, lineBob)
	calls := 0
	err := Decode(bytes.NewReader(data), "f", func(uint32, *api.RawRecord) error {
		calls++
		return assert.AnError
	}, nil)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}
