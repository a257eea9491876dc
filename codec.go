package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/krisalay/progressive-cache/types"
)

// envelope is the persisted form of an entry: the value plus the metadata
// needed to decide expiry after a restart. Times are milliseconds since the
// Unix epoch.
type envelope struct {
	Value    json.RawMessage `json:"value"`
	StoredAt int64           `json:"storedAt"`
	TTL      int64           `json:"ttl"`
}

func encodeEntry(ent *types.CacheEntry) (string, error) {
	raw, err := marshalValue(ent.Value)
	if err != nil {
		return "", &types.SerializationError{Key: ent.Key, Err: err}
	}

	data, err := json.Marshal(envelope{
		Value:    raw,
		StoredAt: ent.StoredAt.UnixMilli(),
		TTL:      ent.TTL.Milliseconds(),
	})
	if err != nil {
		return "", &types.SerializationError{Key: ent.Key, Err: err}
	}
	return string(data), nil
}

// marshalValue turns a panicking MarshalJSON into an error as well.
func marshalValue(v any) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("marshal panicked: %v", r)
		}
	}()

	return json.Marshal(v)
}

func decodeEntry(key, data string) (*types.CacheEntry, error) {
	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("decode envelope %q: %w", key, err)
	}

	return &types.CacheEntry{
		Key:      key,
		Raw:      env.Value,
		StoredAt: time.UnixMilli(env.StoredAt),
		TTL:      time.Duration(env.TTL) * time.Millisecond,
	}, nil
}
