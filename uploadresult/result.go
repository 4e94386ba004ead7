// Package uploadresult holds the response shapes every upload driver
// returns once a file has finished uploading.
package uploadresult

import "encoding/json"

// PutRet is the decoded response body of a successful upload, whether
// it came back from the form driver's single call or the resumable
// driver's final complete_parts call. Fields the server didn't return
// are left at their zero value; Extra preserves anything this type
// doesn't know about instead of silently dropping it.
type PutRet struct {
	Key          string `json:"key"`
	Hash         string `json:"hash"`
	PersistentID string `json:"persistentId,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields normally and keeps every
// other top-level key around in Extra, so callers that asked the
// server to echo custom variables (via returnBody/fname, etc.) can
// still get at them.
func (r *PutRet) UnmarshalJSON(data []byte) error {
	type known PutRet
	var k known
	if err := json.Unmarshal(data, &k); err != nil {
		return err
	}
	*r = PutRet(k)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "key")
	delete(raw, "hash")
	delete(raw, "persistentId")
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// MarshalJSON re-flattens Extra alongside the known fields, the
// inverse of UnmarshalJSON.
func (r PutRet) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	if b, err := json.Marshal(r.Key); err == nil && r.Key != "" {
		out["key"] = b
	}
	if b, err := json.Marshal(r.Hash); err == nil && r.Hash != "" {
		out["hash"] = b
	}
	if b, err := json.Marshal(r.PersistentID); err == nil && r.PersistentID != "" {
		out["persistentId"] = b
	}
	return json.Marshal(out)
}
