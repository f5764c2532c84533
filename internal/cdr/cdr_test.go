package cdr

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAppendsOneJsonLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdr.jsonl")
	sink, err := Open(path, zerolog.Nop())
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	sink.Write(Record{CallID: "c1", From: "alice", To: "bob", StartTime: now, EndTime: now.Add(time.Minute), EndReason: EndRemoteBye})
	sink.Write(Record{CallID: "c2", From: "alice", To: "carol", StartTime: now, EndTime: now, EndReason: EndFailed})
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "c1", rec.CallID)
	assert.Equal(t, EndRemoteBye, rec.EndReason)
}

func TestOpenWithEmptyPathIsANoOp(t *testing.T) {
	sink, err := Open("", zerolog.Nop())
	require.NoError(t, err)
	sink.Write(Record{CallID: "c1"})
	assert.NoError(t, sink.Close())
}
