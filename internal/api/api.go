package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"ot2-calibration/internal/database"
	"ot2-calibration/pkg/models"
)

const maxListLimit = 500

// HistoryService serves the deployment history over HTTP. It is read only.
type HistoryService struct {
	db *gorm.DB
}

func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{db: db}
}

func (s *HistoryService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/deployments", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListDeployments))
		r.Get("/{deployment_id}", RestHandler(s.GetDeployment))
		r.Get("/{deployment_id}/script", RestHandler(s.GetDeploymentScript))
	})
}

type listDeploymentsParams struct {
	Host   string `schema:"host"`
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

func (s *HistoryService) ListDeployments(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[listDeploymentsParams](r)
	if err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must not be negative")
	}
	if params.Limit == 0 || params.Limit > maxListLimit {
		params.Limit = maxListLimit
	}

	switch params.Status {
	case "", database.DeploymentRunning, database.DeploymentSucceeded, database.DeploymentDegraded, database.DeploymentFailed:
	default:
		return nil, CodedErrorf(http.StatusBadRequest, "invalid status '%s'", params.Status)
	}

	deployments, err := database.FilterDeployments(r.Context(), s.db, database.DeploymentFilter{
		Host:   params.Host,
		Status: params.Status,
		Limit:  params.Limit,
	})
	if err != nil {
		slog.Error("error listing deployments", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing deployments")
	}

	return convertDeployments(deployments), nil
}

func (s *HistoryService) getDeployment(r *http.Request) (*database.Deployment, error) {
	deploymentId, err := URLParamUUID(r, "deployment_id")
	if err != nil {
		return nil, err
	}

	deployment, err := database.GetDeployment(r.Context(), s.db, deploymentId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "deployment not found")
		}
		slog.Error("error getting deployment", "deployment_id", deploymentId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving deployment record")
	}
	return deployment, nil
}

func (s *HistoryService) GetDeployment(r *http.Request) (any, error) {
	deployment, err := s.getDeployment(r)
	if err != nil {
		return nil, err
	}
	return convertDeployment(*deployment, true), nil
}

func (s *HistoryService) GetDeploymentScript(r *http.Request) (any, error) {
	deployment, err := s.getDeployment(r)
	if err != nil {
		return nil, err
	}
	return models.DeploymentScript{Id: deployment.Id, Tag: deployment.Tag, Script: deployment.Script}, nil
}
