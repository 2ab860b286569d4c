package protocol

import (
	"bytes"
	"errors"
	"testing"

	"pgregory.net/rapid"
)

type testMessage struct {
	id      int32
	payload []byte
}

func drawMessages(t *rapid.T) []testMessage {
	n := rapid.IntRange(0, 12).Draw(t, "count")
	msgs := make([]testMessage, n)
	for i := range msgs {
		msgs[i] = testMessage{
			id:      rapid.Int32Range(-4, 40).Draw(t, "id"),
			payload: rapid.SliceOfN(rapid.Byte(), 0, 600).Draw(t, "payload"),
		}
	}
	return msgs
}

func encodeStream(msgs []testMessage) []byte {
	var stream []byte
	for _, m := range msgs {
		stream = append(stream, EncodeMessage(m.id, m.payload)...)
	}
	return stream
}

func assertFrames(t *rapid.T, want []testMessage, got []Frame) {
	if len(got) != len(want) {
		t.Fatalf("expected %d frames, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].id {
			t.Fatalf("frame %d: expected id %d, got %d", i, want[i].id, got[i].ID)
		}
		if !bytes.Equal(got[i].Payload, want[i].payload) {
			t.Fatalf("frame %d: payload mismatch (%d vs %d bytes)", i, len(want[i].payload), len(got[i].Payload))
		}
	}
}

// Property 1: Framing round-trip
// *For any* id and payload (including empty), decoding the encoding yields the same pair.
func TestFramingRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.Int32().Draw(t, "id")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 2048).Draw(t, "payload")

		gotID, gotPayload, err := ReadMessage(bytes.NewReader(EncodeMessage(id, payload)))
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		if gotID != id {
			t.Fatalf("expected id %d, got %d", id, gotID)
		}
		if !bytes.Equal(gotPayload, payload) {
			t.Fatalf("payload mismatch")
		}
	})
}

// Property 2: Chunk-split invariance
// *For any* message stream and any split into consecutive non-empty chunks,
// FrameReader yields the same sequence as feeding the whole stream at once.
func TestFrameReaderChunkSplitInvariance_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msgs := drawMessages(t)
		stream := encodeStream(msgs)

		var whole FrameReader
		all, err := whole.Feed(stream)
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		assertFrames(t, msgs, all)

		var split FrameReader
		var got []Frame
		for rest := stream; len(rest) > 0; {
			n := rapid.IntRange(1, len(rest)).Draw(t, "chunk")
			frames, err := split.Feed(rest[:n])
			if err != nil {
				t.Fatalf("Feed failed: %v", err)
			}
			got = append(got, frames...)
			rest = rest[n:]
		}
		assertFrames(t, msgs, got)

		if split.Pending() {
			t.Fatalf("reader still pending after a complete stream")
		}
	})
}

// Property 3: Unknown id safety
// *For any* out-of-range id, parsing yields the Null sentinel and the next frame still decodes.
func TestUnknownIDSafety_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		unknown := rapid.OneOf(
			rapid.Int32Range(-1<<31, -1),
			rapid.Int32Range(int32(len(clientMessageNames)), 1<<30),
		).Draw(t, "unknown")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "payload")

		stream := append(EncodeMessage(unknown, payload), EncodeMessage(ClientTextMessage, []byte("hi"))...)

		var r FrameReader
		frames, err := r.Feed(stream)
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
		if len(frames) != 2 {
			t.Fatalf("expected 2 frames, got %d", len(frames))
		}
		if ParseClientMessageID(frames[0].ID) != ClientNull {
			t.Fatalf("expected ClientNull for id %d", frames[0].ID)
		}
		if ParseClientMessageID(frames[1].ID) != ClientTextMessage {
			t.Fatalf("expected text message after unknown id, got %d", frames[1].ID)
		}
	})
}

func TestFrameReader_PoisonedOnOversizedFrame(t *testing.T) {
	var r FrameReader
	header := EncodeHeader(int32(ClientScreenshotShare), MaxPayloadSize+1)

	_, err := r.Feed(header[:])
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if _, err := r.Feed(EncodeMessage(ClientKeepAlive, nil)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected reader to stay poisoned, got %v", err)
	}
}

func TestFrameReader_NegativeLengthIsEmpty(t *testing.T) {
	var r FrameReader
	header := EncodeHeader(int32(ClientKeepAlive), -5)
	frames, err := r.Feed(header[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 || len(frames[0].Payload) != 0 {
		t.Fatalf("expected one empty frame, got %+v", frames)
	}
}
