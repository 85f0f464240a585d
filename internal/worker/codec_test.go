package worker

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		want    string
	}{
		{
			name: "valid request",
			req:  &Request{ID: 1, Method: "get_name", Params: map[string]any{}},
			want: `{"id":1,"method":"get_name","params":{}}`,
		},
		{
			name: "run with query param",
			req:  &Request{ID: 7, Method: "run", Params: map[string]any{"query": "echo hello"}},
			want: `{"id":7,"method":"run","params":{"query":"echo hello"}}`,
		},
		{
			name:    "zero id rejected",
			req:     &Request{ID: 0, Method: "run"},
			wantErr: true,
		},
		{
			name:    "empty method rejected",
			req:     &Request{ID: 3, Method: ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got line %q", buf.String())
				}
				return
			}
			if err != nil {
				t.Fatalf("EncodeRequest failed: %v", err)
			}
			got := strings.TrimRight(buf.String(), "\n")
			if got != tt.want {
				t.Errorf("encoded line = %q, want %q", got, tt.want)
			}
			if !strings.HasSuffix(buf.String(), "\n") {
				t.Errorf("encoded request must end with a newline")
			}
			if strings.Count(buf.String(), "\n") != 1 {
				t.Errorf("encoded request must be a single line")
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
		check   func(t *testing.T, resp *Response)
	}{
		{
			name: "result response",
			line: `{"id":1,"result":"echo"}`,
			check: func(t *testing.T, resp *Response) {
				if resp.ID != 1 {
					t.Errorf("id = %d, want 1", resp.ID)
				}
				if string(resp.Result) != `"echo"` {
					t.Errorf("result = %s", resp.Result)
				}
			},
		},
		{
			name: "error response",
			line: `{"id":4,"error":"backend unavailable"}`,
			check: func(t *testing.T, resp *Response) {
				if resp.Error != "backend unavailable" {
					t.Errorf("error = %q", resp.Error)
				}
			},
		},
		{
			name:    "not json",
			line:    `starting up...`,
			wantErr: true,
		},
		{
			name:    "missing id",
			line:    `{"result":"echo"}`,
			wantErr: true,
		},
		{
			name:    "neither result nor error",
			line:    `{"id":2}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.line))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error decoding %q", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeResponse failed: %v", err)
			}
			tt.check(t, resp)
		})
	}
}
