package deploy

import (
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"ot2-calibration/internal/calibration"
	"ot2-calibration/internal/robot"
)

const DefaultLabel = "standard-offsets-upload"

type StagedFile struct {
	Name string
	// LocalPath is only set while a deployment holds its local staging
	// directory.
	LocalPath  string
	RemotePath string
	FinalPath  string
	Kind       calibration.Kind
	Mount      string
	Serial     string
	Content    []byte
}

// Plan is everything a deployment will do, computed before anything touches
// the network.
type Plan struct {
	Tag              string
	RemoteStagingDir string
	Bindings         robot.Bindings
	Files            []StagedFile
	Script           string
}

type Planner struct {
	builder *calibration.Builder
	layout  Layout
	now     func() time.Time
	newID   func() uuid.UUID
}

func NewPlanner(builder *calibration.Builder, layout Layout) *Planner {
	return &Planner{builder: builder, layout: layout, now: time.Now, newID: uuid.New}
}

// Tag scopes one deployment's staging directory so successive or concurrent
// runs never share it.
func Tag(label string, now time.Time, id uuid.UUID) string {
	if label == "" {
		label = DefaultLabel
	}
	return fmt.Sprintf("%s-%s-%s", robot.Slug(label), now.UTC().Format("20060102T150405Z"), id.String()[:8])
}

func stage(dir, name string, rec calibration.Record, final, mount, serial string) (StagedFile, error) {
	content, err := rec.Encode()
	if err != nil {
		return StagedFile{}, err
	}
	return StagedFile{
		Name:       name,
		RemotePath: path.Join(dir, name),
		FinalPath:  final,
		Kind:       rec.Kind(),
		Mount:      mount,
		Serial:     serial,
		Content:    content,
	}, nil
}

// Plan builds every record and the commit script. It fails before anything
// is staged when a mount has no template or a template is malformed.
func (p *Planner) Plan(templates *calibration.TemplateSet, bindings robot.Bindings, label string) (*Plan, error) {
	if bindings.Empty() {
		return nil, &NoInstrumentsError{}
	}

	tag := Tag(label, p.now(), p.newID())
	dir := p.layout.StagingDir(tag)
	mounts := bindings.Mounts()

	deck, err := p.builder.Deck(templates.Deck, bindings.DefaultSerial())
	if err != nil {
		return nil, err
	}
	deckFile, err := stage(dir, "deck_calibration.json", deck, p.layout.DeckPath, "", deck.PipetteCalibratedWith)
	if err != nil {
		return nil, err
	}
	files := []StagedFile{deckFile}

	for _, m := range mounts {
		rec, err := p.builder.PipetteOffset(templates.PipetteOffsets, m.Mount)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("%s.%s.pipette.json", m.Serial, m.Mount)
		f, err := stage(dir, name, rec, p.layout.PipetteOffsetPath(m.Mount, m.Serial), m.Mount, m.Serial)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	for _, m := range mounts {
		rec, err := p.builder.TipLength(templates.TipLengths, m.Serial)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("%s.tip_lengths.json", m.Serial)
		f, err := stage(dir, name, rec, p.layout.TipLengthPath(m.Serial), m.Mount, m.Serial)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	plan := &Plan{
		Tag:              tag,
		RemoteStagingDir: dir,
		Bindings:         bindings,
		Files:            files,
	}
	plan.Script = CommitScript(p.layout, plan)

	slog.Info("planned deployment", "tag", tag, "files", len(files), "left", bindings.Left(), "right", bindings.Right())
	return plan, nil
}
