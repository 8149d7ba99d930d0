package calibration

import (
	"encoding/json"
	"fmt"
	"time"
)

const defaultSource = "user"

var defaultStatus = json.RawMessage(`{"markedBad": false, "source": null, "markedAt": null}`)

// timestampLayout keeps the numeric "+00:00" offset. The robot parses these
// values with Python's datetime.fromisoformat, which rejects a "Z" suffix.
const timestampLayout = "2006-01-02T15:04:05.000000-07:00"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Record is a canonical, serial-bound calibration document ready to be
// written to the robot.
type Record interface {
	Kind() Kind
	Encode() ([]byte, error)
}

type PipetteOffsetRecord struct {
	Offset       []float64       `json:"offset"`
	Tiprack      string          `json:"tiprack"`
	Uri          string          `json:"uri"`
	LastModified string          `json:"last_modified"`
	Source       string          `json:"source"`
	Status       json.RawMessage `json:"status"`
}

func (r PipetteOffsetRecord) Kind() Kind { return KindPipetteOffset }

func (r PipetteOffsetRecord) Encode() ([]byte, error) { return encode(r) }

type TipLengthEntry struct {
	TipLength      float64         `json:"tipLength"`
	LastModified   string          `json:"lastModified"`
	Source         string          `json:"source"`
	Status         json.RawMessage `json:"status"`
	DefinitionHash string          `json:"definitionHash"`
}

// TipLengthRecord is stored on disk as a single-key object mapping the
// tiprack uri to its entry.
type TipLengthRecord struct {
	Uri   string
	Entry TipLengthEntry
}

func (r TipLengthRecord) Kind() Kind { return KindTipLength }

func (r TipLengthRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]TipLengthEntry{r.Uri: r.Entry})
}

func (r TipLengthRecord) Encode() ([]byte, error) { return encode(r) }

// DeckCalibrationRecord uses the snake_case v1 on-disk model. A malformed
// file here can keep robot-server from initializing its hardware.
type DeckCalibrationRecord struct {
	Attitude              [][]float64     `json:"attitude"`
	LastModified          string          `json:"last_modified"`
	Source                string          `json:"source"`
	PipetteCalibratedWith string          `json:"pipette_calibrated_with"`
	Tiprack               json.RawMessage `json:"tiprack"`
	Status                json.RawMessage `json:"status"`
}

func (r DeckCalibrationRecord) Kind() Kind { return KindDeck }

func (r DeckCalibrationRecord) Encode() ([]byte, error) { return encode(r) }

func encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error encoding calibration record: %w", err)
	}
	return append(data, '\n'), nil
}

func statusOrDefault(status json.RawMessage) json.RawMessage {
	if isNull(status) {
		return defaultStatus
	}
	return status
}

func sourceOrDefault(source string) string {
	if source == "" {
		return defaultSource
	}
	return source
}
