package identity

import (
	"testing"

	"github.com/linjuya-lu/device-tracker-go/internal/config"
)

func TestFromValue(t *testing.T) {
	want := Address{1, 2, 3, 0xAA, 0xBB, 0xFF}
	cases := []struct {
		name string
		v    any
		ok   bool
	}{
		{"bytes", []byte{1, 2, 3, 0xAA, 0xBB, 0xFF}, true},
		{"ints", []int{1, 2, 3, 0xAA, 0xBB, 0xFF}, true},
		{"yaml", []any{1, 2, 3, 0xAA, 0xBB, 0xFF}, true},
		{"json", []any{1.0, 2.0, 3.0, 170.0, 187.0, 255.0}, true},
		{"short", []int{1, 2, 3}, false},
		{"long", []any{1, 2, 3, 4, 5, 6, 7}, false},
		{"out of range", []int{1, 2, 3, 4, 5, 256}, false},
		{"fraction", []any{1.5, 2, 3, 4, 5, 6}, false},
		{"string", "01:02:03:04:05:06", false},
		{"nil", nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := FromValue(c.v)
			if ok != c.ok {
				t.Fatalf("ok = %v, want %v", ok, c.ok)
			}
			if ok && got != want {
				t.Fatalf("address = %v, want %v", got, want)
			}
		})
	}
}

func TestAddressString(t *testing.T) {
	a := Address{0x0A, 0xB0, 0, 1, 0xFF, 0x10}
	if got := a.String(); got != "0A:B0:00:01:FF:10" {
		t.Fatalf("String() = %s", got)
	}
}

func TestResolverReusesStoredAddress(t *testing.T) {
	store := config.NewMemoryStore()
	r := NewResolver(store)

	first, stored := r.Resolve("T1")
	if stored {
		t.Fatal("empty store reported a stored address")
	}
	if err := r.Save("T1", first); err != nil {
		t.Fatal(err)
	}
	second, stored := r.Resolve("T1")
	if !stored || second != first {
		t.Fatalf("Resolve after save = %v (stored=%v), want %v", second, stored, first)
	}
}

func TestResolverRegeneratesMalformedAddress(t *testing.T) {
	store := config.NewMemoryStore()
	if err := store.Set([]string{config.KeyTrackers, "T1", "macAddress", "bytes"}, []any{1, 2}); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(store)
	r.random = func() Address { return Address{9, 9, 9, 9, 9, 9} }

	addr, stored := r.Resolve("T1")
	if stored || addr != (Address{9, 9, 9, 9, 9, 9}) {
		t.Fatalf("Resolve = %v (stored=%v)", addr, stored)
	}
}
