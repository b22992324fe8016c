package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/nicktill/tinydigest/pkg/codec"
	"github.com/nicktill/tinydigest/pkg/tdigest"
)

// Record encodings accepted by --format and --output
const (
	formatJSON    = "json"
	formatMsgpack = "msgpack"
)

// openInputs calls fn with each named file, or with stdin when names is
// empty or a name is "-"
func openInputs(stdin io.Reader, names []string, fn func(name string, r io.Reader) error) error {
	if len(names) == 0 {
		names = []string{"-"}
	}
	for _, name := range names {
		if name == "-" {
			if err := fn("<stdin>", stdin); err != nil {
				return err
			}
			continue
		}

		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		err = fn(name, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// readValues parses whitespace or comma separated numbers. Blank lines and
// lines starting with '#' are skipped.
func readValues(name string, r io.Reader, values []float64) ([]float64, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%s:%d: invalid value %q", name, line, f)
			}
			values = append(values, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return values, nil
}

// readDigests decodes every record in r. JSON input may hold several
// concatenated records; msgpack input is a stream of records.
func readDigests(name string, r io.Reader, format string) ([]*tdigest.Digest, error) {
	switch format {
	case formatJSON, "":
		return readJSONDigests(name, r)
	case formatMsgpack:
		return readMsgpackDigests(name, r)
	default:
		return nil, fmt.Errorf("unknown format %q (want json or msgpack)", format)
	}
}

func readJSONDigests(name string, r io.Reader) ([]*tdigest.Digest, error) {
	var digests []*tdigest.Digest
	dec := json.NewDecoder(r)
	for i := 0; ; i++ {
		var rec tdigest.Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return digests, nil
			}
			return nil, fmt.Errorf("%s: record %d: %w", name, i, err)
		}
		d, err := tdigest.FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", name, i, err)
		}
		digests = append(digests, d)
	}
}

func readMsgpackDigests(name string, r io.Reader) ([]*tdigest.Digest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	var digests []*tdigest.Digest
	for i := 0; len(data) > 0; i++ {
		rec, rest, err := codec.ReadRecord(data)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", name, i, err)
		}
		d, err := tdigest.FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", name, i, err)
		}
		digests = append(digests, d)
		data = rest
	}
	return digests, nil
}

// writeRecord writes d's record in the given encoding
func writeRecord(w io.Writer, d *tdigest.Digest, format string) error {
	switch format {
	case formatJSON, "":
		enc := json.NewEncoder(w)
		return enc.Encode(d.Record())
	case formatMsgpack:
		b, err := codec.Encode(d.Record())
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return fmt.Errorf("unknown output %q (want json or msgpack)", format)
	}
}
