package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func StartDeployment(ctx context.Context, txn *gorm.DB, deployment *Deployment) error {
	if deployment.Id == uuid.Nil {
		deployment.Id = uuid.New()
	}
	deployment.Status = DeploymentRunning
	deployment.CreationTime = time.Now().UTC()

	if err := txn.WithContext(ctx).Create(deployment).Error; err != nil {
		slog.Error("error recording deployment", "tag", deployment.Tag, "error", err)
		return fmt.Errorf("error recording deployment: %w", err)
	}
	return nil
}

func FinishDeployment(ctx context.Context, txn *gorm.DB, deploymentId uuid.UUID, status, state string, applied []string, errMsg string) error {
	updates := map[string]any{
		"status": status,
		"state":  state,
		"error":  errMsg,
	}
	if applied != nil {
		steps, err := json.Marshal(applied)
		if err != nil {
			return fmt.Errorf("error encoding applied steps: %w", err)
		}
		updates["applied_steps"] = steps
	}
	if status != DeploymentRunning {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&Deployment{Id: deploymentId}).Updates(updates).Error; err != nil {
		slog.Error("error updating deployment status", "deployment_id", deploymentId, "status", status, "error", err)
		return err
	}
	return nil
}

type DeploymentFilter struct {
	Host   string
	Status string
	Limit  int
}

// ListDeployments returns the most recent deployments first. An empty host
// lists every robot.
func ListDeployments(ctx context.Context, db *gorm.DB, host string, limit int) ([]Deployment, error) {
	return FilterDeployments(ctx, db, DeploymentFilter{Host: host, Limit: limit})
}

func FilterDeployments(ctx context.Context, db *gorm.DB, filter DeploymentFilter) ([]Deployment, error) {
	query := db.WithContext(ctx).Order("creation_time DESC")
	if filter.Host != "" {
		query = query.Where("host = ?", filter.Host)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var deployments []Deployment
	if err := query.Find(&deployments).Error; err != nil {
		return nil, fmt.Errorf("error listing deployments: %w", err)
	}
	return deployments, nil
}

func GetDeployment(ctx context.Context, db *gorm.DB, deploymentId uuid.UUID) (*Deployment, error) {
	var deployment Deployment
	if err := db.WithContext(ctx).First(&deployment, "id = ?", deploymentId).Error; err != nil {
		return nil, err
	}
	return &deployment, nil
}

func EncodeFiles(files []DeploymentFile) ([]byte, error) {
	data, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("error encoding deployment files: %w", err)
	}
	return data, nil
}
