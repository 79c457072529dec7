package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Confidence is the server-assigned certainty of an extraction. It is
// read-only metadata: the client never sets it on requests.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// confidenceKey is the reserved enrichment key carrying record-level confidence
const confidenceKey = "confidence"

// EnrichmentValue is one extracted field
type EnrichmentValue struct {
	Value      interface{} `json:"value"`
	Confidence Confidence  `json:"confidence,omitempty"`
}

// Enrichments holds a record's extracted fields plus the record-level
// confidence the API reports alongside them.
type Enrichments struct {
	Fields     map[string]EnrichmentValue
	Confidence Confidence
}

// Get returns the raw value of a named field
func (e Enrichments) Get(name string) (interface{}, bool) {
	v, ok := e.Fields[name]
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// Names returns the field names in sorted order
func (e Enrichments) Names() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e Enrichments) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(e.Fields)+1)
	for name, v := range e.Fields {
		if v.Confidence == "" {
			out[name] = v.Value
		} else {
			out[name] = v
		}
	}
	if e.Confidence != "" {
		out[confidenceKey] = e.Confidence
	}
	return json.Marshal(out)
}

func (e *Enrichments) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*e = Enrichments{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Fields = make(map[string]EnrichmentValue, len(raw))
	e.Confidence = ""
	for name, msg := range raw {
		if name == confidenceKey {
			var c string
			if err := json.Unmarshal(msg, &c); err == nil {
				e.Confidence = Confidence(c)
				continue
			}
		}

		// Wrapped form: {"value": ..., "confidence": ...}
		var wrapped struct {
			Value      *json.RawMessage `json:"value"`
			Confidence Confidence       `json:"confidence"`
		}
		if bytes.HasPrefix(bytes.TrimSpace(msg), []byte("{")) {
			if err := json.Unmarshal(msg, &wrapped); err == nil && wrapped.Value != nil {
				var v interface{}
				if err := json.Unmarshal(*wrapped.Value, &v); err != nil {
					return err
				}
				e.Fields[name] = EnrichmentValue{Value: v, Confidence: wrapped.Confidence}
				continue
			}
		}

		var v interface{}
		if err := json.Unmarshal(msg, &v); err != nil {
			return err
		}
		e.Fields[name] = EnrichmentValue{Value: v}
	}
	return nil
}

// Citation is a source article backing a record
type Citation struct {
	Title         string    `json:"title"`
	Link          string    `json:"link"`
	PublishedDate *FlexTime `json:"published_date,omitempty"`
}

// Record is one validated event extracted by a job
type Record struct {
	ID         string      `json:"record_id"`
	Title      string      `json:"record_title"`
	Enrichment Enrichments `json:"enrichment"`
	Citations  []Citation  `json:"citations"`
}

// Fingerprint hashes the record content (title, enrichment values with
// confidences, citations). Two pulls of an unchanged record yield the
// same fingerprint.
func (r Record) Fingerprint() string {
	payload := struct {
		Title      string      `json:"t"`
		Enrichment Enrichments `json:"e"`
		Citations  []Citation  `json:"c"`
	}{r.Title, r.Enrichment, r.Citations}

	data, err := json.Marshal(payload)
	if err != nil {
		// Unmarshalable values cannot be compared; treat as changed
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
