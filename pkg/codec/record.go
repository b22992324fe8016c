// Package codec encodes digests and storage windows as MessagePack.
//
// The layout mirrors the JSON record: a map keyed by field name, with
// absent fields left out so that decoding can tell "missing" from zero.
package codec

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// AppendRecord appends the MessagePack encoding of rec to b.
func AppendRecord(b []byte, rec tdigest.Record) []byte {
	var fields uint32
	if rec.Centroids != nil {
		fields++
	}
	for _, p := range []*float64{rec.Sum, rec.Count, rec.Max, rec.Min} {
		if p != nil {
			fields++
		}
	}
	if rec.Size != nil {
		fields++
	}

	b = msgp.AppendMapHeader(b, fields)
	if rec.Centroids != nil {
		b = msgp.AppendString(b, "centroids")
		b = msgp.AppendArrayHeader(b, uint32(len(rec.Centroids)))
		for _, c := range rec.Centroids {
			b = appendCentroid(b, c)
		}
	}
	b = appendFloatField(b, "sum", rec.Sum)
	b = appendFloatField(b, "count", rec.Count)
	if rec.Size != nil {
		b = msgp.AppendString(b, "size")
		b = msgp.AppendInt(b, *rec.Size)
	}
	b = appendFloatField(b, "max", rec.Max)
	b = appendFloatField(b, "min", rec.Min)
	return b
}

func appendCentroid(b []byte, c tdigest.CentroidRecord) []byte {
	var fields uint32
	if c.Mean != nil {
		fields++
	}
	if c.Weight != nil {
		fields++
	}
	b = msgp.AppendMapHeader(b, fields)
	b = appendFloatField(b, "mean", c.Mean)
	b = appendFloatField(b, "weight", c.Weight)
	return b
}

func appendFloatField(b []byte, key string, v *float64) []byte {
	if v == nil {
		return b
	}
	b = msgp.AppendString(b, key)
	return msgp.AppendFloat64(b, *v)
}

// ReadRecord decodes a record from the front of b and returns the rest.
// Unknown keys are skipped. Field presence is not validated here; use
// tdigest.FromRecord for that.
func ReadRecord(b []byte) (rec tdigest.Record, o []byte, err error) {
	var fields uint32
	fields, b, err = msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return rec, b, msgp.WrapError(err)
	}

	for fields > 0 {
		fields--

		var field []byte
		field, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return rec, b, msgp.WrapError(err)
		}

		switch msgp.UnsafeString(field) {
		case "centroids":
			var n uint32
			n, b, err = msgp.ReadArrayHeaderBytes(b)
			if err != nil {
				return rec, b, msgp.WrapError(err, "centroids")
			}
			rec.Centroids = make([]tdigest.CentroidRecord, n)
			for i := range rec.Centroids {
				rec.Centroids[i], b, err = readCentroid(b)
				if err != nil {
					return rec, b, msgp.WrapError(err, "centroids", i)
				}
			}
		case "sum":
			rec.Sum, b, err = readFloat(b)
			if err != nil {
				return rec, b, msgp.WrapError(err, "sum")
			}
		case "count":
			rec.Count, b, err = readFloat(b)
			if err != nil {
				return rec, b, msgp.WrapError(err, "count")
			}
		case "size":
			var size int
			size, b, err = msgp.ReadIntBytes(b)
			if err != nil {
				return rec, b, msgp.WrapError(err, "size")
			}
			rec.Size = &size
		case "max":
			rec.Max, b, err = readFloat(b)
			if err != nil {
				return rec, b, msgp.WrapError(err, "max")
			}
		case "min":
			rec.Min, b, err = readFloat(b)
			if err != nil {
				return rec, b, msgp.WrapError(err, "min")
			}
		default:
			b, err = msgp.Skip(b)
			if err != nil {
				return rec, b, msgp.WrapError(err)
			}
		}
	}

	return rec, b, nil
}

func readCentroid(b []byte) (c tdigest.CentroidRecord, o []byte, err error) {
	var fields uint32
	fields, b, err = msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return c, b, err
	}
	for fields > 0 {
		fields--

		var field []byte
		field, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return c, b, err
		}
		switch msgp.UnsafeString(field) {
		case "mean":
			c.Mean, b, err = readFloat(b)
		case "weight":
			c.Weight, b, err = readFloat(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return c, b, err
		}
	}
	return c, b, nil
}

func readFloat(b []byte) (*float64, []byte, error) {
	v, o, err := msgp.ReadFloat64Bytes(b)
	if err != nil {
		return nil, b, err
	}
	return &v, o, nil
}

// Encode returns the MessagePack encoding of rec.
func Encode(rec tdigest.Record) ([]byte, error) {
	return AppendRecord(nil, rec), nil
}

// Decode decodes a single record. It does not validate field presence.
func Decode(b []byte) (tdigest.Record, error) {
	rec, rest, err := ReadRecord(b)
	if err != nil {
		return rec, fmt.Errorf("failed to decode record: %w", err)
	}
	if len(rest) > 0 {
		return rec, fmt.Errorf("failed to decode record: %d trailing bytes", len(rest))
	}
	return rec, nil
}

// EncodeDigest encodes d's record.
func EncodeDigest(d *tdigest.Digest) []byte {
	return AppendRecord(nil, d.Record())
}

// DecodeDigest decodes and validates a digest encoded by EncodeDigest.
func DecodeDigest(b []byte) (*tdigest.Digest, error) {
	rec, err := Decode(b)
	if err != nil {
		return nil, err
	}
	return tdigest.FromRecord(rec)
}
