package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireRecord is the persisted layout. Timestamps are epoch milliseconds.
type wireRecord struct {
	Token          string `json:"token"`
	ExpiresAt      int64  `json:"expiresAt"`
	Principal      string `json:"principal"`
	LastActivityAt int64  `json:"lastActivityAt"`
	SessionNonce   string `json:"sessionNonce"`
}

// Marshal encodes a record in the persisted JSON layout.
func Marshal(rec *Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("store: cannot marshal nil record")
	}
	return json.Marshal(wireRecord{
		Token:          rec.Token,
		ExpiresAt:      rec.ExpiresAt.UnixMilli(),
		Principal:      rec.Principal,
		LastActivityAt: rec.LastActivityAt.UnixMilli(),
		SessionNonce:   rec.SessionNonce,
	})
}

// Unmarshal decodes a record from the persisted JSON layout.
// A record without a token or expiry is treated as unparsable.
func Unmarshal(data []byte) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if w.Token == "" || w.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: missing token or expiresAt", ErrUnparsable)
	}
	return &Record{
		Token:          w.Token,
		Principal:      w.Principal,
		SessionNonce:   w.SessionNonce,
		ExpiresAt:      time.UnixMilli(w.ExpiresAt),
		LastActivityAt: time.UnixMilli(w.LastActivityAt),
	}, nil
}
