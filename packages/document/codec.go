package document

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/highwayhash"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Format selects the encoding of a workbook
type Format string

const (
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
)

var (
	ErrUnknownFormat = errors.New("unknown workbook format")
	ErrChecksum      = errors.New("workbook checksum mismatch")
)

// snapshotSchema versions the msgpack envelope
const snapshotSchema uint16 = 1

var checksumKey = []byte("0123456789ABCDEF0123456789ABCDEF")

type snapshot struct {
	Schema   uint16 `msgpack:"schema"`
	Checksum uint64 `msgpack:"checksum"`
	Payload  []byte `msgpack:"payload"`
}

// ParseFormat resolves a format name as used on the command line
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "msgpack", "mp":
		return FormatMsgpack, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// FormatOf picks the format from the extension of a path or URL
func FormatOf(location string) (Format, error) {
	ext := strings.TrimPrefix(path.Ext(location), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownFormat, location)
	}
	return ParseFormat(ext)
}

func checksum(data []byte) (uint64, error) {
	h, err := highwayhash.New64(checksumKey)
	if err != nil {
		return 0, err
	}
	h.Write(data)
	return h.Sum64(), nil
}

// Encode serializes a workbook
func Encode(wb *Workbook, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(wb); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encoding yaml: %w", err)
		}
		return buf.Bytes(), nil

	case FormatMsgpack:
		payload, err := msgpack.Marshal(wb)
		if err != nil {
			return nil, fmt.Errorf("encoding msgpack: %w", err)
		}
		sum, err := checksum(payload)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := msgpack.NewEncoder(&buf).Encode(snapshot{
			Schema:   snapshotSchema,
			Checksum: sum,
			Payload:  payload,
		}); err != nil {
			return nil, fmt.Errorf("encoding msgpack: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Decode parses and validates a workbook
func Decode(data []byte, format Format) (*Workbook, error) {
	wb := &Workbook{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, wb); err != nil {
			return nil, fmt.Errorf("decoding yaml: %w", err)
		}

	case FormatMsgpack:
		var snap snapshot
		if err := msgpack.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
			return nil, fmt.Errorf("decoding msgpack: %w", err)
		}
		if snap.Schema != snapshotSchema {
			return nil, fmt.Errorf("%w: snapshot schema %d", ErrUnsupportedVersion, snap.Schema)
		}
		sum, err := checksum(snap.Payload)
		if err != nil {
			return nil, err
		}
		if sum != snap.Checksum {
			return nil, ErrChecksum
		}
		if err := msgpack.Unmarshal(snap.Payload, wb); err != nil {
			return nil, fmt.Errorf("decoding msgpack: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if err := wb.Validate(); err != nil {
		return nil, err
	}
	return wb, nil
}
