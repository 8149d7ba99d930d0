package api

import (
	"encoding/json"
	"log/slog"

	"ot2-calibration/internal/database"
	"ot2-calibration/pkg/models"
)

func convertDeployment(d database.Deployment, detailed bool) models.Deployment {
	serials := map[string]string{}
	if d.LeftSerial != "" {
		serials["left"] = d.LeftSerial
	}
	if d.RightSerial != "" {
		serials["right"] = d.RightSerial
	}

	out := models.Deployment{
		Id:           d.Id,
		Host:         d.Host,
		RobotName:    d.RobotName,
		Tag:          d.Tag,
		Serials:      serials,
		DryRun:       d.DryRun,
		Status:       d.Status,
		State:        d.State,
		Error:        d.Error,
		CreationTime: d.CreationTime,
	}
	if d.CompletionTime.Valid {
		completed := d.CompletionTime.Time
		out.CompletionTime = &completed
	}

	if !detailed {
		return out
	}

	var files []database.DeploymentFile
	if len(d.Files) > 0 {
		if err := json.Unmarshal(d.Files, &files); err != nil {
			slog.Warn("error decoding deployment files", "deployment_id", d.Id, "error", err)
		}
	}
	for _, f := range files {
		out.Files = append(out.Files, models.DeploymentFile{
			Name:       f.Name,
			Kind:       f.Kind,
			Mount:      f.Mount,
			Serial:     f.Serial,
			RemotePath: f.RemotePath,
			FinalPath:  f.FinalPath,
		})
	}
	if len(d.AppliedSteps) > 0 {
		if err := json.Unmarshal(d.AppliedSteps, &out.AppliedSteps); err != nil {
			slog.Warn("error decoding applied steps", "deployment_id", d.Id, "error", err)
		}
	}
	return out
}

func convertDeployments(ds []database.Deployment) []models.Deployment {
	out := make([]models.Deployment, 0, len(ds))
	for _, d := range ds {
		out = append(out, convertDeployment(d, false))
	}
	return out
}
