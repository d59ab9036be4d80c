package resource

import (
	"bytes"
	"errors"
	"testing"

	"github.com/macboot/runtime/internal/goerr"
)

func TestStoreGetResourceRoundTrip(tt *testing.T) {
	tt.Parallel()

	s := NewStore()
	s.Put(CODE, 0, []byte{1, 2, 3, 4})

	h, err := s.GetResource(CODE, 0)
	if err != nil {
		tt.Fatalf("GetResource: %v", err)
	}

	data, err := h.Data()
	if err != nil {
		tt.Fatalf("Data: %v", err)
	}

	if !bytes.Equal(data, []byte{1, 2, 3, 4}) {
		tt.Fatalf("data = %v", data)
	}
}

func TestStoreGetResourceNotFound(tt *testing.T) {
	tt.Parallel()

	s := NewStore()

	if _, err := s.GetResource(CODE, 99); !errors.Is(err, goerr.ErrNotFound) {
		tt.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestHandleDoubleReleaseIsNoop(tt *testing.T) {
	tt.Parallel()

	s := NewStore()
	s.Put(CODE, 1, []byte{9})

	h, err := s.GetResource(CODE, 1)
	if err != nil {
		tt.Fatalf("GetResource: %v", err)
	}

	h.Release()
	h.Release() // must not panic or error

	if _, err := h.Data(); !errors.Is(err, goerr.ErrParam) {
		tt.Fatalf("want ErrParam after release, got %v", err)
	}
}

func TestPackUnpackRoundTrip(tt *testing.T) {
	tt.Parallel()

	cases := [][]byte{
		{},
		{0x42},
		{0xAA, 0xAA, 0xAA, 0xAA, 0x01, 0x02, 0x03, 0xAA, 0xAA},
		bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 40),
		bytes.Repeat([]byte{0xFF}, 300),
	}

	for _, tc := range cases {
		packed := Pack(tc)

		got, err := Unpack(packed)
		if err != nil {
			tt.Fatalf("Unpack: %v", err)
		}

		if !bytes.Equal(got, tc) {
			tt.Fatalf("round trip mismatch: got %v, want %v", got, tc)
		}
	}
}

// TestPackWorkedExample exercises the canonical PackBits header formula
// (257-N for a run of N, N-1 for a literal span) against a small mixed
// run/literal/run input.
func TestPackWorkedExample(tt *testing.T) {
	tt.Parallel()

	input := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0x01, 0x02, 0x03, 0xAA, 0xAA}
	want := []byte{0xFD, 0xAA, 0x02, 0x01, 0x02, 0x03, 0xFF, 0xAA}

	got := Pack(input)
	if !bytes.Equal(got, want) {
		tt.Fatalf("Pack = % X, want % X", got, want)
	}
}
