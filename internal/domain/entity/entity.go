// Package entity defines the local business-record shapes the sync engine
// exchanges with accounting back-ends.
package entity

import (
	"encoding/json"
	"maps"
)

// Well-known entity types owned by the business application.
const (
	TypePayment = "payment"
	TypeInvoice = "invoice"
	TypeExpense = "expense"
)

// Snapshot is a field -> value representation of one business record.
// Values are whatever JSON decoding produces (string, float64, bool, nil,
// []any, map[string]any) plus time.Time for store-native timestamps.
type Snapshot map[string]any

// Clone returns a shallow copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Marshal encodes the snapshot as JSON. A nil snapshot encodes as "{}".
func (s Snapshot) Marshal() ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(s))
}

// UnmarshalSnapshot decodes JSON produced by Marshal. Empty input yields an
// empty snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	s := Snapshot{}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Ref identifies one local business record.
type Ref struct {
	Type string `json:"entity_type"`
	ID   string `json:"entity_id"`
}

func (r Ref) String() string { return r.Type + "/" + r.ID }

// Filter narrows a List call against the entity repository.
type Filter struct {
	IDs []string
	// AfterID pages through records ordered by id.
	AfterID string
	Limit   int
}
