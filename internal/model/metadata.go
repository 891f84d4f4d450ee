package model

import "encoding/json"

// The source system stores heterogeneous maps on lines and catalog
// items. Known keys get typed fields; everything else rides in Extras
// so round-tripping never loses data.

// VoceMetadata is the typed sidecar for VoceComputo / ParsedVoce
// metadata maps.
type VoceMetadata struct {
	MissingFromReturn bool               `json:"missing_from_return,omitempty"`
	LockReturnPrice   bool               `json:"lock_return_price,omitempty"`
	GroupTotalOnly    bool               `json:"group_total_only,omitempty"`
	GroupAllocation   string             `json:"group_allocation,omitempty"`
	ProductID         string             `json:"product_id,omitempty"`
	Extras            map[string]any     `json:"-"`
}

// ItemMetadata is the typed sidecar for PriceListItem.extra_metadata.
type ItemMetadata struct {
	NLP    *NLPMetadata   `json:"nlp,omitempty"`
	Extras map[string]any `json:"-"`
}

// NLPMetadata carries the stored embedding of a catalog item together
// with the model that produced it. Vectors from a different model are
// invisible to semantic search.
type NLPMetadata struct {
	ModelID    string             `json:"model_id"`
	Vector     []float32          `json:"vector,omitempty"`
	Dimension  int                `json:"dimension,omitempty"`
	Attributes map[string]any     `json:"attributes,omitempty"`
}

// MarshalJSON merges typed fields with the opaque extras bag.
func (m VoceMetadata) MarshalJSON() ([]byte, error) {
	type alias VoceMetadata
	out := map[string]any{}
	for k, v := range m.Extras {
		out[k] = v
	}
	typed, err := json.Marshal(alias(m))
	if err != nil {
		return nil, err
	}
	var typedMap map[string]any
	if err := json.Unmarshal(typed, &typedMap); err != nil {
		return nil, err
	}
	for k, v := range typedMap {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys into typed fields and keeps the rest.
func (m *VoceMetadata) UnmarshalJSON(data []byte) error {
	type alias VoceMetadata
	var typed alias
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	*m = VoceMetadata(typed)

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range []string{
		"missing_from_return", "lock_return_price", "group_total_only",
		"group_allocation", "product_id",
	} {
		delete(raw, known)
	}
	if len(raw) > 0 {
		m.Extras = raw
	}
	return nil
}

// IsZero reports whether the metadata carries nothing worth persisting.
func (m VoceMetadata) IsZero() bool {
	return !m.MissingFromReturn && !m.LockReturnPrice && !m.GroupTotalOnly &&
		m.GroupAllocation == "" && m.ProductID == "" && len(m.Extras) == 0
}

func (m ItemMetadata) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	for k, v := range m.Extras {
		out[k] = v
	}
	if m.NLP != nil {
		out["nlp"] = m.NLP
	}
	return json.Marshal(out)
}

func (m *ItemMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if nlpRaw, ok := raw["nlp"]; ok {
		var nlp NLPMetadata
		if err := json.Unmarshal(nlpRaw, &nlp); err != nil {
			return err
		}
		m.NLP = &nlp
		delete(raw, "nlp")
	}
	if len(raw) > 0 {
		m.Extras = map[string]any{}
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			m.Extras[k] = val
		}
	}
	return nil
}
