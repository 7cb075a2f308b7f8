package pack

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeLineRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeLine(&buf, []byte("want deadbeef\n")))

	line, err := DecodeLine(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, "", line.Sentinel)
	require.Equal(t, []byte("want deadbeef\n"), line.Payload)
}

func TestDecodeLineRecognizesSentinels(t *testing.T) {
	for _, sentinel := range []string{FlushPkt, DelimPkt, EndPkt} {
		line, err := DecodeLine(bufio.NewReader(bytes.NewBufferString(sentinel)))
		require.NoError(t, err)
		require.Equal(t, sentinel, line.Sentinel)
		require.Empty(t, line.Payload)
	}
}

func TestDecodeLineRejectsShortLength(t *testing.T) {
	_, err := DecodeLine(bufio.NewReader(bytes.NewBufferString("0003x")))
	require.ErrorIs(t, err, ErrMalformedPktLine)
}

func TestReadAllLinesStopsAtFlush(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeLine(&buf, []byte("first")))
	require.NoError(t, EncodeLine(&buf, []byte("second")))
	require.NoError(t, EncodeFlush(&buf))
	// Anything after the flush must not be consumed.
	require.NoError(t, EncodeLine(&buf, []byte("unreachable")))

	lines, err := ReadAllLines(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, []byte("first"), lines[0].Payload)
	require.Equal(t, []byte("second"), lines[1].Payload)
	require.True(t, lines[2].IsFlush())
}

func TestEncodeLineRejectsOversizedPayload(t *testing.T) {
	huge := make([]byte, 0x10000)
	err := EncodeLine(&bytes.Buffer{}, huge)
	require.Error(t, err)
}
