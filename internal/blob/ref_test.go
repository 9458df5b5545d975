package blob

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestRefString(t *testing.T) {
	tests := []struct {
		ref  Ref
		want string
	}{
		{MemoryRef{Index: 42}, "MemoryRef(42)"},
		{BucketRef{Bucket: 1, Offset: 0, Size: 5}, "BucketRef(#1, offset=0, size=5)"},
		{S3Ref{Key: "blobs/a", Size: 3}, "S3Ref(blobs/a, size=3)"},
		{GCSRef{Object: "a", Size: 3}, "GCSRef(a, size=3)"},
		{AzureRef{Blob: "a", Size: 3}, "AzureRef(a, size=3)"},
	}
	for _, tt := range tests {
		if got := tt.ref.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestRefClone(t *testing.T) {
	orig := BucketRef{Bucket: 7, Offset: 100, Size: 20}
	clone := orig.Clone()
	if clone != Ref(orig) {
		t.Errorf("Clone() = %v, want %v", clone, orig)
	}
	if _, ok := clone.(BucketRef); !ok {
		t.Errorf("Clone() changed variant to %T", clone)
	}
}

func TestMarshalRefEnvelope(t *testing.T) {
	tests := []struct {
		ref  Ref
		want string
	}{
		{MemoryRef{Index: 3}, `{"type":"mem","payload":{"index":3}}`},
		{BucketRef{Bucket: 1, Offset: 10, Size: 5}, `{"type":"bucket","payload":{"bucket":1,"offset":10,"size":5}}`},
		{S3Ref{Key: "k", Size: 2}, `{"type":"s3","payload":{"key":"k","size":2}}`},
	}
	for _, tt := range tests {
		data, err := MarshalRef(tt.ref)
		if err != nil {
			t.Fatalf("MarshalRef(%v): %v", tt.ref, err)
		}
		if string(data) != tt.want {
			t.Errorf("MarshalRef(%v) = %s, want %s", tt.ref, data, tt.want)
		}
		back, err := UnmarshalRef(data)
		if err != nil {
			t.Fatalf("UnmarshalRef(%s): %v", data, err)
		}
		if back != tt.ref {
			t.Errorf("UnmarshalRef(%s) = %v, want %v", data, back, tt.ref)
		}
	}
}

func TestUnmarshalRefUnknownType(t *testing.T) {
	_, err := UnmarshalRef([]byte(`{"type":"tape","payload":{}}`))
	if err == nil || !strings.Contains(err.Error(), "tape") {
		t.Fatalf("UnmarshalRef error = %v, want unknown type", err)
	}
}

func TestMarshalRefNil(t *testing.T) {
	if _, err := MarshalRef(nil); err == nil {
		t.Fatal("MarshalRef(nil) succeeded")
	}
}

func mixedRefs() Refs {
	return Refs{
		"mem":    MemoryRef{Index: 9},
		"disk":   BucketRef{Bucket: 12, Offset: 4096, Size: 77},
		"s3":     S3Ref{Key: "rupee/abc", Size: 77},
		"gcs":    GCSRef{Object: "rupee/abc", Size: 77},
		"azure":  AzureRef{Blob: "rupee/abc", Size: 77},
		"second": BucketRef{Bucket: 1, Offset: 0, Size: 77},
	}
}

func TestRefsJSONRoundTrip(t *testing.T) {
	refs := mixedRefs()
	data, err := json.Marshal(refs)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back Refs
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back, refs) {
		t.Errorf("round trip = %v, want %v", back, refs)
	}
}

func TestRefsMsgpRoundTrip(t *testing.T) {
	refs := mixedRefs()
	data, err := refs.MarshalMsg(nil)
	if err != nil {
		t.Fatalf("MarshalMsg: %v", err)
	}

	var back Refs
	rest, err := back.UnmarshalMsg(data)
	if err != nil {
		t.Fatalf("UnmarshalMsg: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("UnmarshalMsg left %d bytes", len(rest))
	}
	if !reflect.DeepEqual(back, refs) {
		t.Errorf("round trip = %v, want %v", back, refs)
	}
}

func TestRefsMsgpTruncated(t *testing.T) {
	data, err := mixedRefs().MarshalMsg(nil)
	if err != nil {
		t.Fatalf("MarshalMsg: %v", err)
	}
	var back Refs
	if _, err := back.UnmarshalMsg(data[:len(data)/2]); err == nil {
		t.Fatal("UnmarshalMsg succeeded on truncated input")
	}
}

func TestRefsCloneAndNames(t *testing.T) {
	refs := mixedRefs()
	clone := refs.Clone()
	clone["extra"] = MemoryRef{Index: 1}
	if _, ok := refs["extra"]; ok {
		t.Error("Clone shares storage with original")
	}

	names := refs.Names()
	want := []string{"azure", "disk", "gcs", "mem", "s3", "second"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Names() = %v, want %v", names, want)
	}
}
