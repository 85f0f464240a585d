package worker

import (
	"encoding/json"
	"fmt"
	"io"
)

// Request is one line on the proxy-to-child pipe. Only the proxy assigns ids;
// they are unique and monotonically increasing within a proxy's lifetime.
type Request struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Response is one line on the child-to-proxy pipe: either a result or an
// error for the request carrying the same id.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// EncodeRequest serializes a Request to JSON and writes it to w followed by a
// newline. json.Encoder flushes one object per line, which is exactly the
// wire format.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.ID < 1 {
		return fmt.Errorf("request id must be positive, got %d", req.ID)
	}
	if req.Method == "" {
		return fmt.Errorf("request method is required")
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	return nil
}

// DecodeResponse parses a single line from the child's stdout. Returns an
// error for lines that are not a valid response object; the reader logs and
// skips those without dying.
func DecodeResponse(line []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("line is not valid JSON: %w", err)
	}

	if resp.ID < 1 {
		return nil, fmt.Errorf("response missing positive id")
	}
	if resp.Error == "" && resp.Result == nil {
		return nil, fmt.Errorf("response %d carries neither result nor error", resp.ID)
	}

	return &resp, nil
}
