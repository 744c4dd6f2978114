package storage

import (
	"errors"
	"testing"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{ref: "s3://catalog/phones.json", want: "catalog/phones.json"},
		{ref: "s3:///phones.json", want: "phones.json"},
		{ref: "s3://a//b.json", want: "a/b.json"},
		{ref: "s3://", wantErr: true},
		{ref: "s3://dir/", wantErr: true},
		{ref: "s3://../secret.json", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.ref)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseKey(%q) expected error, got %q", tt.ref, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", tt.ref, err)
		}
		if got != tt.want {
			t.Fatalf("ParseKey(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestParseKeyPlainPath(t *testing.T) {
	if _, err := ParseKey("./products.json"); !errors.Is(err, ErrNotObjectURI) {
		t.Fatalf("expected ErrNotObjectURI, got %v", err)
	}
}
