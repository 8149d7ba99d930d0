package deploy

import (
	"path"
)

// Layout is where calibration files live on the robot.
type Layout struct {
	StagingRoot  string
	DeckPath     string
	PipetteDir   string
	TipLengthDir string
	Service      string
	Python       string
}

func DefaultLayout() Layout {
	return Layout{
		StagingRoot:  "/data",
		DeckPath:     "/data/robot/deck_calibration.json",
		PipetteDir:   "/data/robot/pipettes",
		TipLengthDir: "/data/tip_lengths",
		Service:      "opentrons-robot-server",
		Python:       "python",
	}
}

func (l Layout) StagingDir(tag string) string {
	return path.Join(l.StagingRoot, tag)
}

func (l Layout) PipetteOffsetPath(mount, serial string) string {
	return path.Join(l.PipetteDir, mount, serial+".json")
}

func (l Layout) TipLengthPath(serial string) string {
	return path.Join(l.TipLengthDir, serial+".json")
}

func (l Layout) DeckDir() string {
	return path.Dir(l.DeckPath)
}

// Dirs are the canonical directories created before any copy.
func (l Layout) Dirs() []string {
	return []string{
		path.Join(l.PipetteDir, "left"),
		path.Join(l.PipetteDir, "right"),
		l.TipLengthDir,
		l.DeckDir(),
	}
}
