// Package codec implements the wire/persisted metadata layout: fixed-width
// fields, a flag bitmap marking which optional fields are present, then
// variable-width length-prefixed fields. The payload envelope is framed with
// google.golang.org/protobuf/encoding/protowire primitives rather than a
// generated .proto type. Only the envelope's data field (field 1) is ever
// written; metadata is encoded on its own and stored under a separate key,
// not embedded as field 2.
package codec

import (
	"encoding/binary"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sneh-joshi/epochbroker/internal/errkind"
	"github.com/sneh-joshi/epochbroker/internal/types"
)

// attemptsInfiniteWire is the one-byte wire encoding of types.AttemptsInfinite.
// The in-memory sentinel is math.MaxInt32 so pipeline comparisons never
// mistake it for a real attempt count, but the wire layout only budgets one
// byte for Attempts (delivery attempt counts are always small); 0xFF is
// reserved to round-trip the sentinel instead of truncating it to 255 and
// silently losing "never requeue" across a storage round-trip.
const attemptsInfiniteWire = 0xFF

const (
	flagPriority      = 0x01
	flagTTL           = 0x02
	flagTTD           = 0x04
	flagBatchID       = 0x08
	flagCorrelationID = 0x10
	flagRoutingKey    = 0x20
)

const (
	envelopeFieldData     protowire.Number = 1
	envelopeFieldMetadata protowire.Number = 2
)

// ProtoMetadataCodec implements msgstorage.Codec.
type ProtoMetadataCodec struct{}

// EncodePayload wraps payload as the envelope's "data" field. Metadata is
// stored separately (msgstorage keeps payload and metadata in distinct
// maps and persists them under distinct keys), so the envelope's metadata
// field is never written, here or anywhere else.
func (ProtoMetadataCodec) EncodePayload(payload []byte) ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, envelopeFieldData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, payload)
	return buf, nil
}

// DecodePayload reads the "data" field back out of the envelope.
func (ProtoMetadataCodec) DecodePayload(data []byte) ([]byte, error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errkind.New(errkind.CodecFailure, "codec: malformed envelope tag")
		}
		data = data[n:]
		if num == envelopeFieldData && typ == protowire.BytesType {
			payload, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errkind.New(errkind.CodecFailure, "codec: malformed payload field")
			}
			return payload, nil
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, errkind.New(errkind.CodecFailure, "codec: malformed envelope field")
		}
		data = data[n:]
	}
	return nil, errkind.New(errkind.CodecFailure, "codec: envelope missing data field")
}

// EncodeMetadata renders meta as fixed-width fields, a flag bitmap, then
// variable-width fields, per the authoritative wire layout.
func (ProtoMetadataCodec) EncodeMetadata(meta *types.Metadata) ([]byte, error) {
	if meta == nil {
		return nil, errkind.New(errkind.InvalidArgument, "codec: nil metadata")
	}

	var flags byte
	if meta.Priority != nil {
		flags |= flagPriority
	}
	if meta.TTL != nil {
		flags |= flagTTL
	}
	if meta.TTD != nil {
		flags |= flagTTD
	}
	if meta.BatchID != nil {
		flags |= flagBatchID
	}
	if meta.CorrelationID != nil {
		flags |= flagCorrelationID
	}
	if meta.RoutingKey != nil {
		flags |= flagRoutingKey
	}

	buf := make([]byte, 0, 64+len(meta.Topic))

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(meta.ID))
	buf = append(buf, u32[:]...)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], math.Float64bits(float64(meta.Ts)))
	buf = append(buf, u64[:]...)

	binary.BigEndian.PutUint32(u32[:], uint32(meta.ProducerID))
	buf = append(buf, u32[:]...)

	buf = append(buf, flags)

	if meta.Priority != nil {
		buf = append(buf, *meta.Priority)
	}
	if meta.TTL != nil {
		binary.BigEndian.PutUint32(u32[:], uint32(*meta.TTL))
		buf = append(buf, u32[:]...)
	}
	if meta.TTD != nil {
		binary.BigEndian.PutUint32(u32[:], uint32(*meta.TTD))
		buf = append(buf, u32[:]...)
	}
	if meta.BatchID != nil {
		binary.BigEndian.PutUint32(u32[:], uint32(*meta.BatchID))
		buf = append(buf, u32[:]...)
		var u16 [2]byte
		var batchIdx, batchSize uint16
		if meta.BatchIdx != nil {
			batchIdx = *meta.BatchIdx
		}
		if meta.BatchSize != nil {
			batchSize = *meta.BatchSize
		}
		binary.BigEndian.PutUint16(u16[:], batchIdx)
		buf = append(buf, u16[:]...)
		binary.BigEndian.PutUint16(u16[:], batchSize)
		buf = append(buf, u16[:]...)
	}

	if meta.Attempts == types.AttemptsInfinite {
		buf = append(buf, attemptsInfiniteWire)
	} else {
		buf = append(buf, byte(meta.Attempts))
	}

	var consumedAt int64
	if meta.ConsumedAt != nil {
		consumedAt = *meta.ConsumedAt
	}
	binary.BigEndian.PutUint64(u64[:], uint64(consumedAt))
	buf = append(buf, u64[:]...)

	buf = appendLenPrefixed(buf, meta.Topic)
	if meta.CorrelationID != nil {
		buf = appendLenPrefixed(buf, *meta.CorrelationID)
	}
	if meta.RoutingKey != nil {
		buf = appendLenPrefixed(buf, *meta.RoutingKey)
	}

	return buf, nil
}

// DecodeMetadata is the inverse of EncodeMetadata.
func (ProtoMetadataCodec) DecodeMetadata(data []byte) (*types.Metadata, error) {
	const fixedLen = 4 + 8 + 4 + 1 // id, ts, producerId, flags
	if len(data) < fixedLen {
		return nil, errkind.New(errkind.CodecFailure, "codec: metadata too short")
	}

	meta := &types.Metadata{}
	off := 0

	meta.ID = uint64(binary.BigEndian.Uint32(data[off:]))
	off += 4

	meta.Ts = int64(math.Float64frombits(binary.BigEndian.Uint64(data[off:])))
	off += 8

	meta.ProducerID = uint64(binary.BigEndian.Uint32(data[off:]))
	off += 4

	flags := data[off]
	off++

	if flags&flagPriority != 0 {
		if off+1 > len(data) {
			return nil, errkind.New(errkind.CodecFailure, "codec: truncated priority")
		}
		p := data[off]
		meta.Priority = &p
		off++
	}
	if flags&flagTTL != 0 {
		if off+4 > len(data) {
			return nil, errkind.New(errkind.CodecFailure, "codec: truncated ttl")
		}
		v := int64(binary.BigEndian.Uint32(data[off:]))
		meta.TTL = &v
		off += 4
	}
	if flags&flagTTD != 0 {
		if off+4 > len(data) {
			return nil, errkind.New(errkind.CodecFailure, "codec: truncated ttd")
		}
		v := int64(binary.BigEndian.Uint32(data[off:]))
		meta.TTD = &v
		off += 4
	}
	if flags&flagBatchID != 0 {
		if off+8 > len(data) {
			return nil, errkind.New(errkind.CodecFailure, "codec: truncated batch fields")
		}
		v := uint64(binary.BigEndian.Uint32(data[off:]))
		meta.BatchID = &v
		off += 4
		idx := binary.BigEndian.Uint16(data[off:])
		meta.BatchIdx = &idx
		off += 2
		size := binary.BigEndian.Uint16(data[off:])
		meta.BatchSize = &size
		off += 2
	}

	if off+1 > len(data) {
		return nil, errkind.New(errkind.CodecFailure, "codec: truncated attempts")
	}
	if data[off] == attemptsInfiniteWire {
		meta.Attempts = types.AttemptsInfinite
	} else {
		meta.Attempts = int(data[off])
	}
	off++

	if off+8 > len(data) {
		return nil, errkind.New(errkind.CodecFailure, "codec: truncated consumedAt")
	}
	consumedAt := int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	if consumedAt != 0 {
		meta.ConsumedAt = &consumedAt
	}

	topic, n, err := readLenPrefixed(data[off:])
	if err != nil {
		return nil, err
	}
	meta.Topic = topic
	off += n

	if flags&flagCorrelationID != 0 {
		s, n, err := readLenPrefixed(data[off:])
		if err != nil {
			return nil, err
		}
		meta.CorrelationID = &s
		off += n
	}
	if flags&flagRoutingKey != 0 {
		s, n, err := readLenPrefixed(data[off:])
		if err != nil {
			return nil, err
		}
		meta.RoutingKey = &s
		off += n
	}

	return meta, nil
}

func appendLenPrefixed(buf []byte, s string) []byte {
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(s)))
	buf = append(buf, u16[:]...)
	return append(buf, s...)
}

func readLenPrefixed(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, errkind.New(errkind.CodecFailure, "codec: truncated length prefix")
	}
	l := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+l {
		return "", 0, errkind.New(errkind.CodecFailure, "codec: truncated variable-width field")
	}
	return string(data[2 : 2+l]), 2 + l, nil
}
