package deploy

import (
	"fmt"
	"strings"

	"ot2-calibration/internal/calibration"
	"ot2-calibration/internal/remote"
)

const (
	stepOkMarker     = "commit step ok: "
	stepFailedMarker = "commit step failed: "
	validMarker      = "deck_calibration_valid"

	exitStepFailed       = 10
	exitValidationFailed = 20
)

const stepFunc = `step() {
  label="$1"
  shift
  if "$@"; then
    echo "` + stepOkMarker + `$label"
  else
    echo "` + stepFailedMarker + `$label" >&2
    exit 10
  fi
}`

// calDirProbe asks the robot's own configuration where robot-server reads
// its calibration from. Older images do not expose it.
const calDirProbe = `from opentrons.config import get_opentrons_path; print(get_opentrons_path("robot_calibration_dir"))`

const validatorCode = `import sys; from pathlib import Path; from opentrons.calibration_storage.ot2.models import v1; ` +
	`p = Path(sys.argv[1]); v1.DeckCalibrationModel.model_validate_json(p.read_text(encoding="utf-8")); ` +
	`print("` + validMarker + `", str(p))`

func stepLabel(f StagedFile) string {
	switch f.Kind {
	case calibration.KindDeck:
		return "copy deck calibration"
	case calibration.KindPipetteOffset:
		return fmt.Sprintf("copy pipette offset %s %s", f.Mount, f.Serial)
	case calibration.KindTipLength:
		return fmt.Sprintf("copy tip length %s %s", f.Mount, f.Serial)
	}
	return "copy " + f.Name
}

func step(label string, argv ...string) string {
	return "step " + remote.ShellQuote(label) + " " + remote.ShellJoin(argv)
}

// CommitScript renders the shell script that moves staged files to their
// canonical paths. The deck calibration is copied and validated by the
// robot's own model before any pipette file is touched. A failing step
// exits 10 after naming itself on stderr; a rejected deck calibration
// exits 20.
func CommitScript(layout Layout, plan *Plan) string {
	var deck *StagedFile
	var rest []StagedFile
	for i, f := range plan.Files {
		if f.Kind == calibration.KindDeck {
			deck = &plan.Files[i]
			continue
		}
		rest = append(rest, f)
	}

	lines := []string{
		"set -eu",
		"(set -o pipefail) 2>/dev/null && set -o pipefail",
		stepFunc,
		step("create directories", append([]string{"mkdir", "-p"}, layout.Dirs()...)...),
	}

	if deck != nil {
		lines = append(lines,
			fmt.Sprintf(`CAL_DIR="$(%s -c %s 2>/dev/null || true)"`, layout.Python, remote.ShellQuote(calDirProbe)),
			`if [ -n "$CAL_DIR" ]; then`,
			`  step 'prepare calibration dir' mkdir -p "$CAL_DIR"`,
			fmt.Sprintf(`  step 'mirror deck calibration' cp %s "$CAL_DIR/deck_calibration.json"`, remote.ShellQuote(deck.RemotePath)),
			"fi",
			step(stepLabel(*deck), "cp", deck.RemotePath, deck.FinalPath),
			fmt.Sprintf(`if ! %s -c %s "${CAL_DIR:-%s}/deck_calibration.json"; then`,
				layout.Python, remote.ShellQuote(validatorCode), layout.DeckDir()),
			`  echo "deck calibration validation failed" >&2`,
			fmt.Sprintf("  exit %d", exitValidationFailed),
			"fi",
		)
	}

	for _, f := range rest {
		lines = append(lines, step(stepLabel(f), "cp", f.RemotePath, f.FinalPath))
	}

	return strings.Join(lines, "\n") + "\n"
}

// parseSteps extracts the completed and failed step labels from the
// script's output.
func parseSteps(stdout, stderr string) (completed []string, failed string) {
	for _, line := range strings.Split(stdout, "\n") {
		if label, ok := strings.CutPrefix(strings.TrimSpace(line), stepOkMarker); ok {
			completed = append(completed, label)
		}
	}
	for _, line := range strings.Split(stderr, "\n") {
		if label, ok := strings.CutPrefix(strings.TrimSpace(line), stepFailedMarker); ok {
			failed = label
		}
	}
	return completed, failed
}
