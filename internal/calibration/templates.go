package calibration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Kind string

const (
	KindPipetteOffset Kind = "pipette offset"
	KindTipLength     Kind = "tip length"
	KindDeck          Kind = "deck calibration"
)

const (
	pipetteOffsetDocument = "pipette offset"
	tipLengthDocument     = "tip length"
	deckDocument          = "deck calibration"
)

type TemplateSet struct {
	PipetteOffsets PipetteOffsetTemplates
	TipLengths     TipLengthTemplates
	Deck           DeckTemplate
}

// PipetteOffsetTemplate is one entry of the /calibration/pipette_offset
// listing.
type PipetteOffsetTemplate struct {
	Mount      string          `json:"mount"`
	Pipette    string          `json:"pipette"`
	Offset     []float64       `json:"offset"`
	Tiprack    string          `json:"tiprack"`
	TiprackUri string          `json:"tiprackUri"`
	Uri        string          `json:"uri"`
	Source     string          `json:"source"`
	Status     json.RawMessage `json:"status"`
}

func (t PipetteOffsetTemplate) validate() error {
	if t.Offset == nil {
		return missingField(pipetteOffsetDocument, "offset")
	}
	if len(t.Offset) != 3 {
		return &SchemaMismatchError{
			Document: pipetteOffsetDocument,
			Field:    "offset",
			Reason:   fmt.Sprintf("must have 3 components, got %d", len(t.Offset)),
		}
	}
	if strings.TrimSpace(t.Tiprack) == "" {
		return missingField(pipetteOffsetDocument, "tiprack")
	}
	return nil
}

type PipetteOffsetTemplates struct {
	Data []PipetteOffsetTemplate `json:"data"`
}

// ForMount returns the first entry whose mount matches, ignoring case.
func (p PipetteOffsetTemplates) ForMount(mount string) (PipetteOffsetTemplate, error) {
	for _, entry := range p.Data {
		if strings.EqualFold(strings.TrimSpace(entry.Mount), mount) {
			return entry, nil
		}
	}
	return PipetteOffsetTemplate{}, &TemplateNotFoundError{Kind: KindPipetteOffset, Key: mount}
}

// TipLengthTemplate is one entry of the /calibration/tip_length listing. The
// pipette association is optional.
type TipLengthTemplate struct {
	Pipette   string          `json:"pipette"`
	TipLength *float64        `json:"tipLength"`
	Tiprack   string          `json:"tiprack"`
	Uri       string          `json:"uri"`
	Source    string          `json:"source"`
	Status    json.RawMessage `json:"status"`
}

func (t TipLengthTemplate) validate() error {
	if t.TipLength == nil {
		return missingField(tipLengthDocument, "tipLength")
	}
	if strings.TrimSpace(t.Uri) == "" {
		return missingField(tipLengthDocument, "uri")
	}
	if strings.TrimSpace(t.Tiprack) == "" {
		return missingField(tipLengthDocument, "tiprack")
	}
	return nil
}

type TipLengthTemplates struct {
	Data []TipLengthTemplate `json:"data"`
}

// ForPipette picks the entry bound to serial, falling back to the first
// entry when serial is empty or unmatched. Templates are not always
// pre-bound to a serial, and a missing association must not abort a
// deployment.
func (t TipLengthTemplates) ForPipette(serial string) (TipLengthTemplate, error) {
	if len(t.Data) == 0 {
		return TipLengthTemplate{}, &TemplateNotFoundError{Kind: KindTipLength}
	}
	if serial != "" {
		for _, entry := range t.Data {
			if strings.TrimSpace(entry.Pipette) == serial {
				return entry, nil
			}
		}
	}
	return t.Data[0], nil
}

type DeckShape string

const (
	DeckShapeFlat   DeckShape = "flat"
	DeckShapeNested DeckShape = "nested"
)

type MatrixField string

const (
	MatrixFieldAttitude MatrixField = "attitude"
	MatrixFieldMatrix   MatrixField = "matrix"
)

// DeckTemplate is the canonical form of a deck calibration template. The two
// historical layouts (a flat record, or the /calibration/status document with
// the record under deckCalibration.data) and the two spellings of the
// attitude matrix are resolved once, when the document is decoded.
type DeckTemplate struct {
	Shape       DeckShape
	MatrixField MatrixField
	Attitude    [][]float64
	Source      string
	// PipetteCalibratedWith is empty when the document does not name the
	// pipette under either spelling.
	PipetteCalibratedWith string
	Tiprack               json.RawMessage
	Status                json.RawMessage
}

type deckFields struct {
	Attitude                   [][]float64     `json:"attitude"`
	Matrix                     [][]float64     `json:"matrix"`
	Source                     string          `json:"source"`
	PipetteCalibratedWithSnake *string         `json:"pipette_calibrated_with"`
	PipetteCalibratedWithCamel *string         `json:"pipetteCalibratedWith"`
	Tiprack                    json.RawMessage `json:"tiprack"`
	Status                     json.RawMessage `json:"status"`
}

func (d *DeckTemplate) UnmarshalJSON(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return &SchemaMismatchError{Document: deckDocument, Reason: fmt.Sprintf("is not a JSON object: %v", err)}
	}

	shape := DeckShapeFlat
	body := data
	if nested, ok := top["deckCalibration"]; ok {
		shape = DeckShapeNested
		var wrapper struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(nested, &wrapper); err != nil || isNull(wrapper.Data) {
			return missingField(deckDocument, "deckCalibration.data")
		}
		body = wrapper.Data
	}

	var fields deckFields
	if err := json.Unmarshal(body, &fields); err != nil {
		return &SchemaMismatchError{Document: deckDocument, Reason: fmt.Sprintf("is malformed: %v", err)}
	}

	var (
		attitude [][]float64
		field    MatrixField
	)
	switch {
	case len(fields.Attitude) > 0:
		attitude, field = fields.Attitude, MatrixFieldAttitude
	case len(fields.Matrix) > 0:
		attitude, field = fields.Matrix, MatrixFieldMatrix
	default:
		return &SchemaMismatchError{Document: deckDocument, Field: "attitude", Reason: "is missing (neither attitude nor matrix present)"}
	}
	if err := validateAttitude(attitude, field); err != nil {
		return err
	}

	*d = DeckTemplate{
		Shape:       shape,
		MatrixField: field,
		Attitude:    attitude,
		Source:      fields.Source,
		Tiprack:     fields.Tiprack,
		Status:      fields.Status,
	}
	// An empty value counts as absent under either spelling.
	for _, v := range []*string{fields.PipetteCalibratedWithSnake, fields.PipetteCalibratedWithCamel} {
		if v != nil && strings.TrimSpace(*v) != "" {
			d.PipetteCalibratedWith = *v
			break
		}
	}
	return nil
}

func validateAttitude(m [][]float64, field MatrixField) error {
	if len(m) != 3 {
		return &SchemaMismatchError{Document: deckDocument, Field: string(field), Reason: fmt.Sprintf("must have 3 rows, got %d", len(m))}
	}
	for i, row := range m {
		if len(row) != 3 {
			return &SchemaMismatchError{Document: deckDocument, Field: string(field), Reason: fmt.Sprintf("row %d must have 3 columns, got %d", i, len(row))}
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func ParsePipetteOffsetTemplates(data []byte) (PipetteOffsetTemplates, error) {
	var t PipetteOffsetTemplates
	if err := json.Unmarshal(data, &t); err != nil {
		return t, &SchemaMismatchError{Document: pipetteOffsetDocument, Reason: fmt.Sprintf("is malformed: %v", err)}
	}
	return t, nil
}

func ParseTipLengthTemplates(data []byte) (TipLengthTemplates, error) {
	var t TipLengthTemplates
	if err := json.Unmarshal(data, &t); err != nil {
		return t, &SchemaMismatchError{Document: tipLengthDocument, Reason: fmt.Sprintf("is malformed: %v", err)}
	}
	return t, nil
}

func ParseDeckTemplate(data []byte) (DeckTemplate, error) {
	var d DeckTemplate
	if err := d.UnmarshalJSON(data); err != nil {
		return DeckTemplate{}, err
	}
	return d, nil
}
