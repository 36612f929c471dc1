package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Record is one self-describing entry of a collection. Every stored record
// carries an integer "id".
type Record map[string]any

// ID returns the record's identifier, or 0 when it has none.
func (r Record) ID() int64 {
	return r.Int("id")
}

// Int returns the integer value of field, or 0 when it is absent or not an
// integer.
func (r Record) Int(field string) int64 {
	n, _ := toID(r[field])
	return n
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out, err := normalizeRecord(r)
	if err != nil {
		// r was produced by normalizeRecord, so it always round-trips.
		panic(fmt.Sprintf("db: clone record: %v", err))
	}
	return out
}

// Collection is the persisted unit: the ordered records plus the highest id
// ever assigned, so ids stay unique after deletes.
type Collection struct {
	LastID  int64    `json:"last_id"`
	Records []Record `json:"records"`
}

func (c *Collection) indexOf(id int64) int {
	for i, rec := range c.Records {
		if rec.ID() == id {
			return i
		}
	}
	return -1
}

func (c *Collection) nextID() int64 {
	next := c.LastID
	for _, rec := range c.Records {
		if id := rec.ID(); id > next {
			next = id
		}
	}
	return next + 1
}

// ToRecord converts any JSON-encodable value into a Record.
func ToRecord(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("encode record: %T is not an object", v)
	}
	return rec, nil
}

// FromRecord decodes a Record into T.
func FromRecord[T any](rec Record) (T, error) {
	var out T
	data, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}

// normalizeRecord gives rec the representation a freshly decoded record has
// (numbers as float64, typed strings as string), so equality checks agree
// regardless of where a value came from.
func normalizeRecord(rec Record) (Record, error) {
	if rec == nil {
		return Record{}, nil
	}
	return ToRecord(rec)
}

func normalizeValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func toID(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	default:
		return 0, false
	}
}

func encodeCollection(c Collection) ([]byte, error) {
	if c.Records == nil {
		c.Records = []Record{}
	}
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeCollection accepts both the current container and a bare JSON array
// of records.
func decodeCollection(data []byte) (Collection, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Collection{}, nil
	}

	var c Collection
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &c.Records); err != nil {
			return Collection{}, err
		}
	} else if err := json.Unmarshal(trimmed, &c); err != nil {
		return Collection{}, err
	}
	for _, rec := range c.Records {
		if id := rec.ID(); id > c.LastID {
			c.LastID = id
		}
	}
	return c, nil
}

func decodeRecords(data []byte) ([]Record, error) {
	var records []Record
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func encodeRecords(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	return json.Marshal(records)
}

type sentinel string

func (e sentinel) Error() string { return string(e) }

// errNothingToWrite aborts a Mutate without saving and without surfacing an
// error to the caller.
const errNothingToWrite = sentinel("nothing to write")
