package blob

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tinylib/msgp/msgp"
)

// Reference type tags used on the wire.
const (
	KindMemory = "mem"
	KindBucket = "bucket"
	KindS3     = "s3"
	KindGCS    = "gcs"
	KindAzure  = "azure"
)

// Ref is a backend-specific locator for a stored blob. The set of variants
// is closed: MemoryRef, BucketRef, S3Ref, GCSRef and AzureRef. A backend
// must reject every variant except its own.
type Ref interface {
	// Kind returns the wire tag of the variant.
	Kind() string
	String() string
	Clone() Ref

	isRef()
}

// MemoryRef locates a blob in a memory store by insertion index.
type MemoryRef struct {
	Index int `json:"index"`
}

// BucketRef locates a blob inside a bucket file.
type BucketRef struct {
	Bucket uint64 `json:"bucket"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// S3Ref locates a blob stored as one S3 object.
type S3Ref struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// GCSRef locates a blob stored as one Cloud Storage object.
type GCSRef struct {
	Object string `json:"object"`
	Size   int64  `json:"size"`
}

// AzureRef locates a blob stored as one Azure block blob.
type AzureRef struct {
	Blob string `json:"blob"`
	Size int64  `json:"size"`
}

func (MemoryRef) Kind() string { return KindMemory }
func (BucketRef) Kind() string { return KindBucket }
func (S3Ref) Kind() string     { return KindS3 }
func (GCSRef) Kind() string    { return KindGCS }
func (AzureRef) Kind() string  { return KindAzure }

func (r MemoryRef) String() string { return fmt.Sprintf("MemoryRef(%d)", r.Index) }

func (r BucketRef) String() string {
	return fmt.Sprintf("BucketRef(#%d, offset=%d, size=%d)", r.Bucket, r.Offset, r.Size)
}

func (r S3Ref) String() string    { return fmt.Sprintf("S3Ref(%s, size=%d)", r.Key, r.Size) }
func (r GCSRef) String() string   { return fmt.Sprintf("GCSRef(%s, size=%d)", r.Object, r.Size) }
func (r AzureRef) String() string { return fmt.Sprintf("AzureRef(%s, size=%d)", r.Blob, r.Size) }

func (r MemoryRef) Clone() Ref { return r }
func (r BucketRef) Clone() Ref { return r }
func (r S3Ref) Clone() Ref     { return r }
func (r GCSRef) Clone() Ref    { return r }
func (r AzureRef) Clone() Ref  { return r }

func (MemoryRef) isRef() {}
func (BucketRef) isRef() {}
func (S3Ref) isRef()     {}
func (GCSRef) isRef()    {}
func (AzureRef) isRef()  {}

// envelope is the tagged JSON form of a Ref.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalRef encodes r as {"type": <tag>, "payload": {...}}.
func MarshalRef(r Ref) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("marshaling nil reference")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", r.Kind(), err)
	}
	return json.Marshal(envelope{Type: r.Kind(), Payload: payload})
}

// UnmarshalRef decodes the tagged JSON form produced by MarshalRef.
func UnmarshalRef(data []byte) (Ref, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding reference envelope: %w", err)
	}
	var (
		ref Ref
		err error
	)
	switch env.Type {
	case KindMemory:
		var r MemoryRef
		err = json.Unmarshal(env.Payload, &r)
		ref = r
	case KindBucket:
		var r BucketRef
		err = json.Unmarshal(env.Payload, &r)
		ref = r
	case KindS3:
		var r S3Ref
		err = json.Unmarshal(env.Payload, &r)
		ref = r
	case KindGCS:
		var r GCSRef
		err = json.Unmarshal(env.Payload, &r)
		ref = r
	case KindAzure:
		var r AzureRef
		err = json.Unmarshal(env.Payload, &r)
		ref = r
	default:
		return nil, fmt.Errorf("unknown reference type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
	}
	return ref, nil
}

// Refs maps a backend name to the reference that backend issued.
type Refs map[string]Ref

// Clone returns a deep copy of rs.
func (rs Refs) Clone() Refs {
	out := make(Refs, len(rs))
	for name, r := range rs {
		out[name] = r.Clone()
	}
	return out
}

// Names returns the backend names in sorted order.
func (rs Refs) Names() []string {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (rs Refs) MarshalJSON() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(rs))
	for name, r := range rs {
		data, err := MarshalRef(r)
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", name, err)
		}
		raw[name] = data
	}
	return json.Marshal(raw)
}

func (rs *Refs) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Refs, len(raw))
	for name, msg := range raw {
		r, err := UnmarshalRef(msg)
		if err != nil {
			return fmt.Errorf("backend %q: %w", name, err)
		}
		out[name] = r
	}
	*rs = out
	return nil
}

// MarshalMsg appends the MessagePack form of rs to b. Each entry is a
// two-key map {type, payload} mirroring the JSON envelope.
func (rs Refs) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendMapHeader(b, uint32(len(rs)))
	for _, name := range rs.Names() {
		b = msgp.AppendString(b, name)
		var err error
		if b, err = appendRefMsg(b, rs[name]); err != nil {
			return nil, fmt.Errorf("backend %q: %w", name, err)
		}
	}
	return b, nil
}

// UnmarshalMsg decodes a map written by MarshalMsg and returns the
// remaining bytes.
func (rs *Refs) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, err
	}
	out := make(Refs, n)
	for i := uint32(0); i < n; i++ {
		var name string
		if name, b, err = msgp.ReadStringBytes(b); err != nil {
			return b, err
		}
		var r Ref
		if r, b, err = readRefMsg(b); err != nil {
			return b, fmt.Errorf("backend %q: %w", name, err)
		}
		out[name] = r
	}
	*rs = out
	return b, nil
}

func appendRefMsg(b []byte, r Ref) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 2)
	b = msgp.AppendString(b, "type")
	b = msgp.AppendString(b, r.Kind())
	b = msgp.AppendString(b, "payload")
	switch v := r.(type) {
	case MemoryRef:
		b = msgp.AppendMapHeader(b, 1)
		b = msgp.AppendString(b, "index")
		b = msgp.AppendInt(b, v.Index)
	case BucketRef:
		b = msgp.AppendMapHeader(b, 3)
		b = msgp.AppendString(b, "bucket")
		b = msgp.AppendUint64(b, v.Bucket)
		b = msgp.AppendString(b, "offset")
		b = msgp.AppendInt64(b, v.Offset)
		b = msgp.AppendString(b, "size")
		b = msgp.AppendInt64(b, v.Size)
	case S3Ref:
		b = appendNamedMsg(b, "key", v.Key, v.Size)
	case GCSRef:
		b = appendNamedMsg(b, "object", v.Object, v.Size)
	case AzureRef:
		b = appendNamedMsg(b, "blob", v.Blob, v.Size)
	default:
		return nil, fmt.Errorf("unsupported reference %T", r)
	}
	return b, nil
}

func appendNamedMsg(b []byte, field, name string, size int64) []byte {
	b = msgp.AppendMapHeader(b, 2)
	b = msgp.AppendString(b, field)
	b = msgp.AppendString(b, name)
	b = msgp.AppendString(b, "size")
	return msgp.AppendInt64(b, size)
}

func readRefMsg(b []byte) (Ref, []byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	var (
		kind    string
		payload []byte
	)
	for i := uint32(0); i < n; i++ {
		var key string
		if key, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, b, err
		}
		switch key {
		case "type":
			if kind, b, err = msgp.ReadStringBytes(b); err != nil {
				return nil, b, err
			}
		case "payload":
			rest, err := msgp.Skip(b)
			if err != nil {
				return nil, b, err
			}
			payload = b[:len(b)-len(rest)]
			b = rest
		default:
			if b, err = msgp.Skip(b); err != nil {
				return nil, b, err
			}
		}
	}
	if payload == nil {
		return nil, b, fmt.Errorf("reference %q has no payload", kind)
	}
	r, err := decodePayloadMsg(kind, payload)
	return r, b, err
}

func decodePayloadMsg(kind string, b []byte) (Ref, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, err
	}
	var (
		mem    MemoryRef
		bucket BucketRef
		name   string
		size   int64
	)
	for i := uint32(0); i < n; i++ {
		var key string
		if key, b, err = msgp.ReadStringBytes(b); err != nil {
			return nil, err
		}
		switch key {
		case "index":
			mem.Index, b, err = msgp.ReadIntBytes(b)
		case "bucket":
			bucket.Bucket, b, err = msgp.ReadUint64Bytes(b)
		case "offset":
			bucket.Offset, b, err = msgp.ReadInt64Bytes(b)
		case "size":
			size, b, err = msgp.ReadInt64Bytes(b)
		case "key", "object", "blob":
			name, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, fmt.Errorf("decoding %s field %q: %w", kind, key, err)
		}
	}
	switch kind {
	case KindMemory:
		return mem, nil
	case KindBucket:
		bucket.Size = size
		return bucket, nil
	case KindS3:
		return S3Ref{Key: name, Size: size}, nil
	case KindGCS:
		return GCSRef{Object: name, Size: size}, nil
	case KindAzure:
		return AzureRef{Blob: name, Size: size}, nil
	}
	return nil, fmt.Errorf("unknown reference type %q", kind)
}
