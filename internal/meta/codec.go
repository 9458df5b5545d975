package meta

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/tinylib/msgp/msgp"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/domain"
)

// appendMetaMsg appends the MessagePack form of m: a map {id: bin16, size: int}.
func appendMetaMsg(b []byte, m domain.BlobMeta) []byte {
	b = msgp.AppendMapHeader(b, 2)
	b = msgp.AppendString(b, "id")
	b = msgp.AppendBytes(b, m.ID[:])
	b = msgp.AppendString(b, "size")
	return msgp.AppendInt64(b, m.Size)
}

func readMetaMsg(b []byte) (domain.BlobMeta, error) {
	var m domain.BlobMeta
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return m, err
	}
	for i := uint32(0); i < n; i++ {
		var key string
		if key, b, err = msgp.ReadStringBytes(b); err != nil {
			return m, err
		}
		switch key {
		case "id":
			var raw []byte
			if raw, b, err = msgp.ReadBytesZC(b); err != nil {
				return m, err
			}
			if m.ID, err = uuid.FromBytes(raw); err != nil {
				return m, err
			}
		case "size":
			if m.Size, b, err = msgp.ReadInt64Bytes(b); err != nil {
				return m, err
			}
		default:
			if b, err = msgp.Skip(b); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}

func encodeRefsMsg(refs blob.Refs) ([]byte, error) {
	return refs.MarshalMsg(nil)
}

func decodeRefsMsg(b []byte) (blob.Refs, error) {
	var refs blob.Refs
	if _, err := refs.UnmarshalMsg(b); err != nil {
		return nil, err
	}
	return refs, nil
}

// encodeJSON renders meta and refs as the document columns used by the
// relational and document backends.
func encodeJSON(m domain.BlobMeta, refs blob.Refs) (metaDoc, refsDoc string, err error) {
	mb, err := json.Marshal(m)
	if err != nil {
		return "", "", fmt.Errorf("encoding meta: %w", err)
	}
	if refs == nil {
		refs = blob.Refs{}
	}
	rb, err := json.Marshal(refs)
	if err != nil {
		return "", "", fmt.Errorf("encoding refs: %w", err)
	}
	return string(mb), string(rb), nil
}

func decodeMetaJSON(doc string) (domain.BlobMeta, error) {
	var m domain.BlobMeta
	err := json.Unmarshal([]byte(doc), &m)
	return m, err
}

func decodeRefsJSON(doc string) (blob.Refs, error) {
	var refs blob.Refs
	if err := json.Unmarshal([]byte(doc), &refs); err != nil {
		return nil, err
	}
	return refs, nil
}
