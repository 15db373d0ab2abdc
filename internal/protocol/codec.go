package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineBytes caps a single envelope line read from an agent.
const maxLineBytes = 4 * 1024 * 1024

// EncodeRequest serializes a Request as a single JSON line and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.ID == "" {
		return fmt.Errorf("request id is empty")
	}
	if req.Method == "" {
		return fmt.Errorf("request method is empty")
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// Reader decodes newline-delimited Response envelopes from an agent's stdout.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r for envelope reading.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{scanner: sc}
}

// Next reads the next response envelope. Blank lines are skipped; io.EOF is
// returned when the stream ends.
func (r *Reader) Next() (*Response, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("invalid response envelope: %w", err)
		}
		if resp.ID == "" {
			return nil, fmt.Errorf("response envelope missing id")
		}
		if resp.Error != nil && resp.Error.Message == "" {
			return nil, fmt.Errorf("response %s has error object with no message", resp.ID)
		}
		return &resp, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return nil, io.EOF
}

// Unmarshal decodes a result payload into v. An empty payload is an error;
// agents must return an explicit result object.
func Unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty result payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Marshal is a helper for building request params.
func Marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return b, nil
}
