package calibration

import (
	"slices"
	"time"
)

// Builder turns templates into records. It has no side effects; the only
// non-deterministic input is the clock used for the creation timestamp.
type Builder struct {
	now func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

func NewBuilderWithClock(now func() time.Time) *Builder {
	return &Builder{now: now}
}

func (b *Builder) PipetteOffset(templates PipetteOffsetTemplates, mount string) (PipetteOffsetRecord, error) {
	tpl, err := templates.ForMount(mount)
	if err != nil {
		return PipetteOffsetRecord{}, err
	}
	if err := tpl.validate(); err != nil {
		return PipetteOffsetRecord{}, err
	}

	uri := tpl.TiprackUri
	if uri == "" {
		uri = tpl.Uri
	}

	return PipetteOffsetRecord{
		Offset:       slices.Clone(tpl.Offset),
		Tiprack:      tpl.Tiprack,
		Uri:          uri,
		LastModified: FormatTimestamp(b.now()),
		Source:       sourceOrDefault(tpl.Source),
		Status:       statusOrDefault(tpl.Status),
	}, nil
}

func (b *Builder) TipLength(templates TipLengthTemplates, preferredSerial string) (TipLengthRecord, error) {
	tpl, err := templates.ForPipette(preferredSerial)
	if err != nil {
		return TipLengthRecord{}, err
	}
	if err := tpl.validate(); err != nil {
		return TipLengthRecord{}, err
	}

	return TipLengthRecord{
		Uri: tpl.Uri,
		Entry: TipLengthEntry{
			TipLength:      *tpl.TipLength,
			LastModified:   FormatTimestamp(b.now()),
			Source:         sourceOrDefault(tpl.Source),
			Status:         statusOrDefault(tpl.Status),
			DefinitionHash: tpl.Tiprack,
		},
	}, nil
}

// Deck builds the deck record. The calibrating pipette is taken from the
// template when it names one, otherwise defaultSerial is used.
func (b *Builder) Deck(tpl DeckTemplate, defaultSerial string) (DeckCalibrationRecord, error) {
	if err := validateAttitude(tpl.Attitude, tpl.MatrixField); err != nil {
		return DeckCalibrationRecord{}, err
	}

	calibratedWith := tpl.PipetteCalibratedWith
	if calibratedWith == "" {
		calibratedWith = defaultSerial
	}

	attitude := make([][]float64, len(tpl.Attitude))
	for i, row := range tpl.Attitude {
		attitude[i] = slices.Clone(row)
	}

	return DeckCalibrationRecord{
		Attitude:              attitude,
		LastModified:          FormatTimestamp(b.now()),
		Source:                sourceOrDefault(tpl.Source),
		PipetteCalibratedWith: calibratedWith,
		Tiprack:               tpl.Tiprack,
		Status:                statusOrDefault(tpl.Status),
	}, nil
}
