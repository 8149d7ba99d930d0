package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"ot2-calibration/internal/storage"
)

// Names are the object keys of the three template documents, relative to
// the store prefix.
type Names struct {
	PipetteOffsets string
	TipLengths     string
	Deck           string
}

func DefaultNames() Names {
	return Names{
		PipetteOffsets: "pipette_offsets_all.json",
		TipLengths:     "tip_length_offsets_all.json",
		Deck:           "calibration_status_with_deck_offset.json",
	}
}

type Store struct {
	provider storage.Provider
	bucket   string
	prefix   string
	names    Names
}

func NewStore(provider storage.Provider, bucket, prefix string, names Names) *Store {
	return &Store{provider: provider, bucket: bucket, prefix: prefix, names: names}
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *Store) read(ctx context.Context, document, name string) ([]byte, error) {
	key := s.key(name)
	data, err := s.provider.GetObject(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%s template %s not found: %w", document, key, err)
		}
		return nil, fmt.Errorf("error reading %s template %s: %w", document, key, err)
	}
	slog.Debug("loaded template", "document", document, "bucket", s.bucket, "key", key, "bytes", len(data))
	return data, nil
}

// Load reads and parses all three templates. Nothing is cached between calls.
func (s *Store) Load(ctx context.Context) (*TemplateSet, error) {
	pipetteData, err := s.read(ctx, pipetteOffsetDocument, s.names.PipetteOffsets)
	if err != nil {
		return nil, err
	}
	pipettes, err := ParsePipetteOffsetTemplates(pipetteData)
	if err != nil {
		return nil, err
	}

	tipData, err := s.read(ctx, tipLengthDocument, s.names.TipLengths)
	if err != nil {
		return nil, err
	}
	tips, err := ParseTipLengthTemplates(tipData)
	if err != nil {
		return nil, err
	}

	deckData, err := s.read(ctx, deckDocument, s.names.Deck)
	if err != nil {
		return nil, err
	}
	deck, err := ParseDeckTemplate(deckData)
	if err != nil {
		return nil, err
	}

	slog.Info("loaded calibration templates",
		"pipette_offsets", len(pipettes.Data),
		"tip_lengths", len(tips.Data),
		"deck_shape", deck.Shape,
		"deck_matrix_field", deck.MatrixField,
	)

	return &TemplateSet{PipetteOffsets: pipettes, TipLengths: tips, Deck: deck}, nil
}
