package test

import "testing"

type nillable[A any] interface {
	[]A
}

func AssertEqual[T comparable](t *testing.T, val1 T, val2 T, msg string) {
	t.Helper()
	if val1 != val2 {
		t.Fatalf("%s: %v != %v", msg, val1, val2)
	}
}

func AssertNotEqual[T comparable](t *testing.T, val1 T, val2 T, msg string) {
	t.Helper()
	if val1 == val2 {
		t.Fatalf("%s: %v", msg, val1)
	}
}

func AssertNotNil[A any, T nillable[A]](t *testing.T, val T, msg string) {
	t.Helper()
	if val == nil {
		t.Fatalf(msg)
	}
}

func AssertBytesEqual(t *testing.T, val1 []byte, val2 []byte, msg string) {
	t.Helper()
	if len(val1) != len(val2) {
		t.Fatalf("%s: length %d != %d", msg, len(val1), len(val2))
	}
	for i := range val1 {
		if val1[i] != val2[i] {
			t.Fatalf("%s: byte %d: %#x != %#x", msg, i, val1[i], val2[i])
		}
	}
}

func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

func AssertError(t *testing.T, err error, expected error, msg string) {
	t.Helper()
	if err != expected {
		t.Fatalf("%s: got %v, expected %v", msg, err, expected)
	}
}
