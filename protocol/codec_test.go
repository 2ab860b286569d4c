package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Payload size constants for benchmarks
const (
	SmallPayloadSize  = 64    // chat, settings
	MediumPayloadSize = 1024  // plugin updates
	LargePayloadSize  = 65536 // screenshots
)

func generatePayload(size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	return payload
}

func TestEncodeHeader_LittleEndian(t *testing.T) {
	header := EncodeHeader(3, 0x01020304)
	assert.Equal(t, [HeaderSize]byte{3, 0, 0, 0, 4, 3, 2, 1}, header)

	id, length := DecodeHeader(header)
	assert.Equal(t, int32(3), id)
	assert.Equal(t, int32(0x01020304), length)
}

func TestEncodeMessage_EmptyPayload(t *testing.T) {
	msg := EncodeMessage(ClientKeepAlive, nil)
	require.Len(t, msg, HeaderSize)

	id, payload, err := ReadMessage(bytes.NewReader(msg))
	require.NoError(t, err)
	assert.Equal(t, int32(ClientKeepAlive), id)
	assert.Empty(t, payload)
}

func TestWriteMessage_SingleWrite(t *testing.T) {
	w := &countingWriter{}
	payload := generatePayload(SmallPayloadSize)

	require.NoError(t, WriteMessage(w, ServerTextMessage, payload))
	assert.Equal(t, 1, w.writes)
	assert.Equal(t, EncodeMessage(ServerTextMessage, payload), w.buf.Bytes())
}

func TestReadMessage_TooLarge(t *testing.T) {
	header := EncodeHeader(int32(ClientTextMessage), MaxPayloadSize+1)
	_, _, err := ReadMessage(bytes.NewReader(header[:]))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestReadMessage_Truncated(t *testing.T) {
	msg := EncodeMessage(ClientTextMessage, []byte{1, 2, 3, 4})
	_, _, err := ReadMessage(bytes.NewReader(msg[:len(msg)-1]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read payload")
}

func TestParseIDs_OutOfRange(t *testing.T) {
	assert.Equal(t, ClientNull, ParseClientMessageID(-1))
	assert.Equal(t, ClientNull, ParseClientMessageID(14))
	assert.Equal(t, ClientPing, ParseClientMessageID(13))

	assert.Equal(t, ServerNull, ParseServerMessageID(13))
	assert.Equal(t, ServerPingReply, ParseServerMessageID(12))

	assert.Equal(t, ClientInteropNull, ParseClientInteropMessageID(5))
	assert.Equal(t, ClientInteropPluginUpdate, ParseClientInteropMessageID(4))

	assert.Equal(t, PluginInteropNull, ParsePluginInteropMessageID(7))
	assert.Equal(t, PluginInteropScreenshotWatchUpdate, ParsePluginInteropMessageID(6))
}

func TestIDs_WireOrdinals(t *testing.T) {
	assert.Equal(t, ClientMessageID(9), ClientNull)
	assert.Equal(t, ClientMessageID(8), ClientUdpProbe)
	assert.Equal(t, ServerMessageID(10), ServerNull)
	assert.Equal(t, ServerMessageID(9), ServerUdpAcknowledge)
	assert.Equal(t, "udp_probe", ClientUdpProbe.String())
	assert.Equal(t, "unknown", ServerMessageID(99).String())
}

func TestDatagram_RoundTrip(t *testing.T) {
	payload := generatePayload(100)
	data := EncodeDatagram(7, ClientPrimaryPluginUpdate, payload)
	require.Len(t, data, MinDatagramSize+len(payload))

	sender, frame, err := DecodeDatagram(data)
	require.NoError(t, err)
	assert.Equal(t, int32(7), sender)
	assert.Equal(t, int32(ClientPrimaryPluginUpdate), frame.ID)
	assert.Equal(t, payload, frame.Payload)
}

func TestDatagram_TooShort(t *testing.T) {
	_, _, err := DecodeDatagram(make([]byte, MinDatagramSize-1))
	assert.True(t, errors.Is(err, ErrShortPayload))

	data := EncodeDatagram(1, ClientUdpProbe, []byte{1, 2, 3})
	_, _, err = DecodeDatagram(data[:len(data)-1])
	assert.True(t, errors.Is(err, ErrShortPayload))
}

type countingWriter struct {
	buf    bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.buf.Write(p)
}

// BenchmarkWriteMessage benchmarks message encoding with various payload sizes
func BenchmarkWriteMessage(b *testing.B) {
	sizes := []struct {
		name string
		size int
	}{
		{"64B", SmallPayloadSize},
		{"1KB", MediumPayloadSize},
		{"64KB", LargePayloadSize},
	}

	for _, s := range sizes {
		b.Run(s.name, func(b *testing.B) {
			payload := generatePayload(s.size)
			var buf bytes.Buffer
			buf.Grow(s.size + HeaderSize)

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				buf.Reset()
				if err := WriteMessage(&buf, ServerPluginUpdate, payload); err != nil {
					b.Fatalf("WriteMessage failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkFrameReader_Feed benchmarks stream decoding with small reads
func BenchmarkFrameReader_Feed(b *testing.B) {
	var stream []byte
	for i := 0; i < 64; i++ {
		stream = append(stream, EncodeMessage(ClientPrimaryPluginUpdate, generatePayload(MediumPayloadSize))...)
	}

	b.ReportAllocs()
	b.SetBytes(int64(len(stream)))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		var r FrameReader
		for off := 0; off < len(stream); off += 1460 {
			end := min(off+1460, len(stream))
			if _, err := r.Feed(stream[off:end]); err != nil {
				b.Fatalf("Feed failed: %v", err)
			}
		}
	}
}
