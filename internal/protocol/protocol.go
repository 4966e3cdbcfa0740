// Package protocol implements the datagram framing for telemetry records:
// a one byte magic, a one byte version and a CBOR body.
package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"codeberg.org/mutker/hwtelemetry/internal/telemetry"
	"github.com/fxamacker/cbor/v2"
)

const (
	Magic   byte = 0x54
	Version byte = 1

	HeaderSize = 2

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507
)

// encMode uses Core Deterministic Encoding so equal records produce equal
// frames.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 4096,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode frames a record for a single datagram. Names that are not valid
// UTF-8, such as raw mount points, are sent with U+FFFD in place of the bad
// bytes since CBOR text strings must be UTF-8.
func Encode(rec telemetry.Record) ([]byte, error) {
	body, err := encMode.Marshal(validText(rec))
	if err != nil {
		return nil, errors.New().Wrap(ErrSerialize, err)
	}

	frame := make([]byte, 0, HeaderSize+len(body))
	frame = append(frame, Magic, Version)

	return append(frame, body...), nil
}

// Decode validates the header and decodes the body. Either the whole record
// is returned or an error, never a partial record.
func Decode(frame []byte) (telemetry.Record, error) {
	errFactory := errors.New()

	if len(frame) < HeaderSize {
		return telemetry.Record{}, errFactory.WithData(ErrTooShort, fmt.Sprintf("%d bytes", len(frame)))
	}
	if frame[0] != Magic {
		return telemetry.Record{}, errFactory.WithData(ErrInvalidMagic, fmt.Sprintf("0x%02x", frame[0]))
	}
	if frame[1] != Version {
		return telemetry.Record{}, errFactory.WithData(ErrVersionMismatch,
			fmt.Sprintf("got %d, want %d", frame[1], Version))
	}

	var rec telemetry.Record
	if err := decMode.Unmarshal(frame[HeaderSize:], &rec); err != nil {
		return telemetry.Record{}, errFactory.Wrap(ErrDeserialize, err)
	}

	if len(rec.Storage) == 0 {
		rec.Storage = nil
	}
	if len(rec.Fans) == 0 {
		rec.Fans = nil
	}

	return rec, nil
}

// FrameStats describes the encoded size of a record.
type FrameStats struct {
	HeaderBytes  int
	BodyBytes    int
	TotalBytes   int
	StorageCount int
	FanCount     int
}

// Headroom is how many more bytes the frame could grow before it no longer
// fits a single datagram.
func (s FrameStats) Headroom() int {
	return MaxDatagramSize - s.TotalBytes
}

// Stats encodes rec and reports its size.
func Stats(rec telemetry.Record) (FrameStats, error) {
	frame, err := Encode(rec)
	if err != nil {
		return FrameStats{}, err
	}

	return FrameStats{
		HeaderBytes:  HeaderSize,
		BodyBytes:    len(frame) - HeaderSize,
		TotalBytes:   len(frame),
		StorageCount: len(rec.Storage),
		FanCount:     len(rec.Fans),
	}, nil
}

// validText returns rec with every string made valid UTF-8. The lists are
// only copied when one of their names needs repair.
func validText(rec telemetry.Record) telemetry.Record {
	rec.Network.AdapterName = toValidUTF8(rec.Network.AdapterName)

	for i := range rec.Storage {
		if !utf8.ValidString(rec.Storage[i].Name) {
			storage := make([]telemetry.Storage, len(rec.Storage))
			copy(storage, rec.Storage)
			for j := range storage {
				storage[j].Name = toValidUTF8(storage[j].Name)
			}
			rec.Storage = storage
			break
		}
	}

	for i := range rec.Fans {
		if !utf8.ValidString(rec.Fans[i].Name) {
			fans := make([]telemetry.Fan, len(rec.Fans))
			copy(fans, rec.Fans)
			for j := range fans {
				fans[j].Name = toValidUTF8(fans[j].Name)
			}
			rec.Fans = fans
			break
		}
	}

	return rec
}

func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	return strings.ToValidUTF8(s, "\uFFFD")
}
