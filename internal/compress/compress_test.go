package compress

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("layer,table,attachment\n"), 1000)
	for _, kind := range []Kind{None, Gzip, Zstd} {
		t.Run(string(kind), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := kind.NewWriter(&buf)
			if err != nil {
				t.Fatalf("new writer: %v", err)
			}
			if _, err := w.Write(payload); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if kind != None && buf.Len() >= len(payload) {
				t.Fatalf("%s did not compress: %d bytes", kind, buf.Len())
			}

			r, err := kind.NewReader(&buf)
			if err != nil {
				t.Fatalf("new reader: %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Fatalf("round trip mismatch")
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ext  string
	}{
		{in: "", want: None},
		{in: "none", want: None},
		{in: " GZIP ", want: Gzip, ext: ".gz"},
		{in: "zstd", want: Zstd, ext: ".zst"},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.in, err)
		}
		if got != tt.want || got.Extension() != tt.ext {
			t.Fatalf("%q: got %s (%q), want %s (%q)", tt.in, got, got.Extension(), tt.want, tt.ext)
		}
	}
	if _, err := ParseKind("brotli"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Kind("brotli").NewWriter(io.Discard); err == nil {
		t.Fatalf("expected writer error")
	}
}
