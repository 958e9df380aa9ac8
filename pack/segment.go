// Package pack encodes the change list of a revision into compact,
// checksummed segments stored alongside the revision index.
package pack

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/mfaure/git-as-svn/cas"
	"github.com/mfaure/git-as-svn/vfs"
)

// Segment format, zstd-compressed as a whole:
// [4 bytes: header length (big-endian)]
// [header JSON: Header]
// [body JSON: []vfs.Change]
//
// The header carries the BLAKE3 checksum of the body and the change count.

const (
	HeaderLengthSize = 4
	MaxHeaderSize    = 64 * 1024
	MaxSegmentSize   = 256 * 1024 * 1024
)

var ErrChecksumMismatch = errors.New("segment checksum mismatch")

// Header describes the body of a segment.
type Header struct {
	Checksum []byte `json:"checksum"`
	Count    int    `json:"count"`
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil)
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxSegmentSize))
	})
	return encoder, decoder, codecErr
}

// EncodeChanges builds a segment from a change list.
func EncodeChanges(changes []vfs.Change) ([]byte, error) {
	if changes == nil {
		changes = []vfs.Change{}
	}
	body, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("marshaling changes: %w", err)
	}

	headerJSON, err := json.Marshal(Header{
		Checksum: cas.Blake3Hash(body),
		Count:    len(changes),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	var raw bytes.Buffer
	headerLen := make([]byte, HeaderLengthSize)
	binary.BigEndian.PutUint32(headerLen, uint32(len(headerJSON)))
	raw.Write(headerLen)
	raw.Write(headerJSON)
	raw.Write(body)

	enc, _, err := codec()
	if err != nil {
		return nil, fmt.Errorf("creating zstd codec: %w", err)
	}
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

// DecodeChanges verifies and decodes a segment built by EncodeChanges.
func DecodeChanges(segment []byte) ([]vfs.Change, error) {
	_, dec, err := codec()
	if err != nil {
		return nil, fmt.Errorf("creating zstd codec: %w", err)
	}
	raw, err := dec.DecodeAll(segment, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}

	if len(raw) < HeaderLengthSize {
		return nil, fmt.Errorf("segment too small: %d bytes", len(raw))
	}
	headerLen := binary.BigEndian.Uint32(raw[:HeaderLengthSize])
	if headerLen > MaxHeaderSize {
		return nil, fmt.Errorf("header too large: %d bytes", headerLen)
	}
	if int(HeaderLengthSize+headerLen) > len(raw) {
		return nil, fmt.Errorf("header length exceeds segment size")
	}

	var header Header
	if err := json.Unmarshal(raw[HeaderLengthSize:HeaderLengthSize+headerLen], &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}

	body := raw[HeaderLengthSize+headerLen:]
	if !bytes.Equal(cas.Blake3Hash(body), header.Checksum) {
		return nil, fmt.Errorf("%w: body hashes to %s", ErrChecksumMismatch, cas.Blake3HashHex(body))
	}

	var changes []vfs.Change
	if err := json.Unmarshal(body, &changes); err != nil {
		return nil, fmt.Errorf("parsing changes: %w", err)
	}
	if len(changes) != header.Count {
		return nil, fmt.Errorf("change count mismatch: header says %d, body has %d", header.Count, len(changes))
	}
	return changes, nil
}
