// Package archive reads compressed line-delimited archive files and turns
// them into raw record candidates for the bronze stage.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/ohler55/ojg/oj"

	"github.com/strata-etl/strata/api"
	"github.com/strata-etl/strata/internal/event"
)

// maxLineBytes caps a single archive line. Push events with large commit
// lists have been observed past 1 MiB; 16 MiB leaves generous headroom while
// keeping memory bounded to a small multiple of one line.
const maxLineBytes = 16 * 1024 * 1024

// SkipFunc is invoked for each malformed line. line is the zero-based line
// number within the file.
type SkipFunc func(line uint32, err error)

// errLineTooLong marks a line past maxLineBytes. The line is discarded and
// reported through SkipFunc; the rest of the file decodes normally.
var errLineTooLong = errors.New("line exceeds size cap")

// Decode streams one gzip NDJSON archive. fn receives each well-formed
// record exactly once, in file order, with its line number; only one record
// is alive at a time. Malformed lines are reported through skip and never
// abort the stream. An unreadable container returns an error.
//
// Returning an error from fn stops the stream and propagates the error.
func Decode(r io.Reader, fileID string, fn func(line uint32, rec *api.RawRecord) error, skip SkipFunc) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip stream %s: %w", fileID, err)
	}
	defer func() { _ = gz.Close() }()

	br := bufio.NewReaderSize(gz, 64*1024)
	var line uint32
	for {
		raw, tooLong, err := readLine(br)
		if err != nil && err != io.EOF {
			return fmt.Errorf("read archive %s: %w", fileID, err)
		}
		eof := err == io.EOF

		switch {
		case tooLong:
			if skip != nil {
				skip(line, errLineTooLong)
			}
		case len(raw) > 0:
			rec, derr := decodeLine(raw, fileID)
			if derr != nil {
				if skip != nil {
					skip(line, derr)
				}
			} else if ferr := fn(line, rec); ferr != nil {
				return ferr
			}
		}
		if eof {
			return nil
		}
		line++
	}
}

// readLine returns the next line without its terminator. tooLong reports a
// line past maxLineBytes; its bytes are dropped and the reader is left at
// the start of the next line, so one runaway line cannot sink the file.
func readLine(br *bufio.Reader) (raw []byte, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			if len(buf)+len(chunk) > maxLineBytes {
				return nil, true, drainLine(br)
			}
			buf = append(buf, chunk...)
			continue
		}
		if err != nil && err != io.EOF {
			return nil, false, err
		}
		buf = append(buf, chunk...)
		if n := len(buf); n > 0 && buf[n-1] == '\n' {
			buf = buf[:n-1]
		}
		if n := len(buf); n > 0 && buf[n-1] == '\r' {
			buf = buf[:n-1]
		}
		if len(buf) > maxLineBytes {
			return nil, true, err
		}
		return buf, false, err
	}
}

// drainLine discards input up to and including the next newline.
func drainLine(br *bufio.Reader) error {
	for {
		_, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			continue
		}
		return err
	}
}

func decodeLine(raw []byte, fileID string) (*api.RawRecord, error) {
	parsed, err := oj.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse line: %w", err)
	}
	doc, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("line is not a JSON object")
	}

	id, _ := doc["id"].(string)
	typ, _ := doc["type"].(string)
	createdAt, _ := doc["created_at"].(string)
	if id == "" || typ == "" {
		return nil, fmt.Errorf("line missing id or type")
	}

	return &api.RawRecord{
		Fingerprint: event.Fingerprint(doc),
		SourceFile:  fileID,
		EventID:     id,
		EventType:   typ,
		CreatedAt:   createdAt,
		Payload:     doc,
		IngestedAt:  time.Now().UTC(),
	}, nil
}
