package cell

import (
	"errors"
	"testing"
)

func TestEncodeOmitsAbsentCaption(t *testing.T) {
	data, err := Encode(Cell{X: 1, Y: 1, Kind: KindColor, Content: "#ff0000"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"x":1,"y":1,"kind":"COLOR","content":"#ff0000"}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestEncodeDecodeWithCaption(t *testing.T) {
	in := Cell{X: 2, Y: 0, Kind: KindImageURL, Content: "https://example.com/a.jpg", Caption: "a cat"}
	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestEncodeUnknownKind(t *testing.T) {
	if _, err := Encode(Cell{Kind: "VIDEO"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"malformed":       `{"x":1,`,
		"not an object":   `[1,2]`,
		"missing x":       `{"y":1,"kind":"COLOR","content":""}`,
		"missing y":       `{"x":1,"kind":"COLOR","content":""}`,
		"missing kind":    `{"x":1,"y":1,"content":""}`,
		"unknown kind":    `{"x":1,"y":1,"kind":"VIDEO","content":""}`,
		"missing content": `{"x":1,"y":1,"kind":"COLOR"}`,
		"fractional x":    `{"x":1.5,"y":1,"kind":"COLOR","content":""}`,
		"trailing data":   `{"x":1,"y":1,"kind":"COLOR","content":""} {}`,
		"null":            `null`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(content))
			var dErr *DecodeError
			if !errors.As(err, &dErr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

func TestDecodeEmptyCaptionIsAbsent(t *testing.T) {
	c, err := Decode([]byte(`{"x":0,"y":0,"kind":"COLOR","content":"#000","caption":""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.HasCaption() {
		t.Fatal("empty caption should count as absent")
	}
}

func TestKey(t *testing.T) {
	if got := Key(3, 14); got != "3-14" {
		t.Fatalf("expected 3-14, got %q", got)
	}
	if got := (Cell{X: 0, Y: 2}).Key(); got != "0-2" {
		t.Fatalf("expected 0-2, got %q", got)
	}
}
