package codec

import (
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/tinylib/msgp/msgp"

	"github.com/nicktill/tinydigest/pkg/storage"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// EncodeWindow serializes a window as snappy-compressed MessagePack.
func EncodeWindow(w storage.Window) ([]byte, error) {
	if w.Digest == nil {
		return nil, fmt.Errorf("window %q has no digest", w.Name)
	}

	b := msgp.AppendMapHeader(nil, 5)
	b = msgp.AppendString(b, "name")
	b = msgp.AppendString(b, w.Name)

	b = msgp.AppendString(b, "labels")
	b = msgp.AppendMapHeader(b, uint32(len(w.Labels)))
	for k, v := range w.Labels {
		b = msgp.AppendString(b, k)
		b = msgp.AppendString(b, v)
	}

	b = msgp.AppendString(b, "ts")
	b = msgp.AppendInt64(b, w.Timestamp.UnixNano())

	b = msgp.AppendString(b, "res")
	b = msgp.AppendString(b, string(w.Resolution))

	b = msgp.AppendString(b, "digest")
	b = AppendRecord(b, w.Digest.Record())

	return snappy.Encode(nil, b), nil
}

// DecodeWindow reverses EncodeWindow.
func DecodeWindow(data []byte) (storage.Window, error) {
	var w storage.Window

	b, err := snappy.Decode(nil, data)
	if err != nil {
		return w, fmt.Errorf("failed to decompress window: %w", err)
	}

	fields, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return w, fmt.Errorf("failed to decode window: %w", err)
	}

	var haveDigest bool
	for fields > 0 {
		fields--

		var field []byte
		field, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return w, fmt.Errorf("failed to decode window: %w", err)
		}

		switch msgp.UnsafeString(field) {
		case "name":
			w.Name, b, err = msgp.ReadStringBytes(b)
		case "labels":
			w.Labels, b, err = readLabels(b)
		case "ts":
			var ns int64
			ns, b, err = msgp.ReadInt64Bytes(b)
			w.Timestamp = time.Unix(0, ns).UTC()
		case "res":
			var res string
			res, b, err = msgp.ReadStringBytes(b)
			w.Resolution = storage.Resolution(res)
		case "digest":
			var rec tdigest.Record
			rec, b, err = ReadRecord(b)
			if err == nil {
				w.Digest, err = tdigest.FromRecord(rec)
				haveDigest = true
			}
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return w, fmt.Errorf("failed to decode window field %q: %w", field, err)
		}
	}

	if !haveDigest {
		return w, fmt.Errorf("failed to decode window %q: no digest", w.Name)
	}
	return w, nil
}

func readLabels(b []byte) (map[string]string, []byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	if n == 0 {
		return nil, b, nil
	}

	labels := make(map[string]string, n)
	for ; n > 0; n-- {
		var k, v string
		k, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, b, err
		}
		v, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, b, err
		}
		labels[k] = v
	}
	return labels, b, nil
}
