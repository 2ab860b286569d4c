// Package interop hands framed messages between the relay client and the game
// plugin through files in a shared directory.
//
// A file holds the format version followed by framed messages. The writer never
// replaces a file the other side has not consumed yet; the reader deletes a file
// once it has parsed it.
package interop

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Mmx233/klf/protocol"
)

const (
	// ClientFile carries messages from the relay client to the plugin.
	ClientFile = "interopclient.txt"
	// PluginFile carries messages from the plugin to the relay client.
	PluginFile = "interopplugin.txt"

	versionSize = 4
)

var (
	// ErrFormatVersion means the file was written by an incompatible build.
	ErrFormatVersion = errors.New("interop file format version mismatch")
	// ErrPending means the previous file has not been consumed yet.
	ErrPending = errors.New("interop file not yet consumed")
)

// Message is one framed interop message.
type Message struct {
	ID      int32
	Payload []byte
}

// Writer produces interop files at a fixed path.
type Writer struct {
	path    string
	version int32
}

func NewWriter(path string) *Writer {
	return &Writer{path: path, version: protocol.FileFormatVersion}
}

// Path returns the file the writer produces.
func (w *Writer) Path() string { return w.path }

// Write stores msgs in a new file. When the previous file still exists it
// returns ErrPending and writes nothing, so the caller can keep the messages.
//
// The content is staged in a temporary file and linked into place, which fails
// when the target exists and never exposes a partially written file.
func (w *Writer) Write(msgs []Message) error {
	if _, err := os.Lstat(w.path); err == nil {
		return ErrPending
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create interop dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create interop temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	_, werr := tmp.Write(Encode(w.version, msgs))
	cerr := tmp.Close()
	if werr != nil {
		return fmt.Errorf("write interop file: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close interop file: %w", cerr)
	}

	if err := os.Link(tmpName, w.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrPending
		}
		return fmt.Errorf("publish interop file: %w", err)
	}
	return nil
}

// Encode renders an interop file body.
func Encode(version int32, msgs []Message) []byte {
	size := versionSize
	for _, m := range msgs {
		size += protocol.HeaderSize + len(m.Payload)
	}
	buf := make([]byte, versionSize, size)
	binary.LittleEndian.PutUint32(buf, uint32(version))
	for _, m := range msgs {
		header := protocol.EncodeHeader(m.ID, int32(len(m.Payload)))
		buf = append(buf, header[:]...)
		buf = append(buf, m.Payload...)
	}
	return buf
}

// Decode parses an interop file body. A trailing partial frame is an error.
func Decode(version int32, data []byte) ([]Message, error) {
	if len(data) < versionSize {
		return nil, fmt.Errorf("%w: file is %d bytes", ErrFormatVersion, len(data))
	}
	if got := int32(binary.LittleEndian.Uint32(data)); got != version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrFormatVersion, got, version)
	}

	r := bytes.NewReader(data[versionSize:])
	msgs := make([]Message, 0)
	for r.Len() > 0 {
		id, payload, err := protocol.ReadMessage(r)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("parse interop file: %w", protocol.ErrShortPayload)
		}
		if err != nil {
			return nil, fmt.Errorf("parse interop file: %w", err)
		}
		msgs = append(msgs, Message{ID: id, Payload: payload})
	}
	return msgs, nil
}

// Reader consumes interop files at a fixed path.
type Reader struct {
	path    string
	version int32
}

func NewReader(path string) *Reader {
	return &Reader{path: path, version: protocol.FileFormatVersion}
}

// Path returns the file the reader consumes.
func (r *Reader) Path() string { return r.path }

// Read returns the messages of the current file and deletes it. A missing file
// yields no messages. A file of another format version is left in place and
// reported with ErrFormatVersion.
func (r *Reader) Read() ([]Message, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read interop file: %w", err)
	}

	msgs, err := Decode(r.version, data)
	if errors.Is(err, ErrFormatVersion) {
		return nil, err
	}
	if rmErr := os.Remove(r.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove interop file: %w", rmErr)
	}
	return msgs, err
}
