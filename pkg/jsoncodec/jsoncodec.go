// Package jsoncodec is the JSON codec shared by the line-delimited RPC
// transport and the command-line output.
package jsoncodec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// ErrMalformed wraps a line that is not valid JSON for the target value.
var ErrMalformed = errors.New("jsoncodec: malformed line")

// RawMessage defers decoding of a JSON value.
type RawMessage = json.RawMessage

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

// LineReader splits a stream into newline-terminated JSON documents.
type LineReader struct {
	r *bufio.Reader
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next decodes the next non-blank line into v. It returns io.EOF at the end
// of the stream and an ErrMalformed error for a line that fails to decode;
// the reader stays usable after ErrMalformed.
func (l *LineReader) Next(v any) error {
	for {
		line, err := l.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if uerr := api.Unmarshal(line, v); uerr != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, uerr)
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}
