// Package records produces the application records the demo programs push
// through a GBN sender: generated text lines or lines read from input, each
// cut to fit one packet.
package records

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"iter"

	"gbn/packet"
)

// Generate yields n numbered lines of the form "00042 abc...xyz\n".
func Generate(n int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for i := 0; i < n; i++ {
			if !yield([]byte(fmt.Sprintf("%05d abcdefghijklmnopqrstuvwxyz\n", i))) {
				return
			}
		}
	}
}

// ScanRecords is a bufio.SplitFunc returning lines with their newline.
// Lines longer than one packet payload are split into several records.
func ScanRecords(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 && i < packet.MaxPayload {
		return i + 1, data[:i+1], nil
	}
	if len(data) >= packet.MaxPayload {
		return packet.MaxPayload, data[:packet.MaxPayload], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Read yields the records of r. The slice is only valid until the next
// iteration; the sender copies it on Submit. A read error ends the sequence
// and is reported through errp.
func Read(r io.Reader, errp *error) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		sc := bufio.NewScanner(r)
		sc.Split(ScanRecords)
		for sc.Scan() {
			if !yield(sc.Bytes()) {
				return
			}
		}
		*errp = sc.Err()
	}
}
