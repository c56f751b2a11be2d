package serial

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
)

func TestJSONDecoder(t *testing.T) {
	cases := []struct {
		line string
		kind interpreter.EventKind
		ok   bool
	}{
		{`{"type":"connect","tracker":"T1"}`, interpreter.EventConnect, true},
		{`{"type":"disconnect","tracker":"T1"}`, interpreter.EventDisconnect, true},
		{`{"type":"mag","tracker":"T1","status":"green"}`, interpreter.EventMag, true},
		{`{"type":"button","tracker":"T1","button":"main","pressed":true}`, interpreter.EventButton, true},
		{`{"type":"log","message":"hello"}`, interpreter.EventLog, true},
		{`{"type":"error","message":"boom","exceptional":true}`, interpreter.EventError, true},
		{`{"type":"settings","tracker":"T1","settings":{"sensorMode":1}}`, 0, false},
		{`{"type":"firmware","tracker":"T1"}`, 0, false},
	}
	for _, c := range cases {
		rec, err := JSONDecoder{}.Decode([]byte(c.line))
		if err != nil {
			t.Fatalf("Decode(%s): %v", c.line, err)
		}
		ev, ok := rec.Event()
		if ok != c.ok {
			t.Fatalf("Event(%s) ok = %v", c.line, ok)
		}
		if ok && ev.Kind != c.kind {
			t.Fatalf("Event(%s) kind = %v, want %v", c.line, ev.Kind, c.kind)
		}
	}
}

func TestJSONDecoderErrors(t *testing.T) {
	for _, line := range []string{`{`, `[]`, `{"tracker":"T1"}`} {
		_, err := JSONDecoder{}.Decode([]byte(line))
		if err == nil || !strings.Contains(err.Error(), "JSON") {
			t.Fatalf("Decode(%s) = %v", line, err)
		}
	}
	_, err := JSONDecoder{}.Decode([]byte(`{"tracker":"T1"}`))
	if !errors.Is(err, errMissingType) {
		t.Fatalf("missing type: %v", err)
	}
}

func TestLineReaderSkipsBlankLines(t *testing.T) {
	r := NewLineReader(strings.NewReader("\n  a \r\n\nb"))
	var got []string
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, string(line))
	}
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("lines = %v", got)
	}
}
