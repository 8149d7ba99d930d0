package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"ot2-calibration/internal/config"
	"ot2-calibration/internal/database"
	"ot2-calibration/internal/deploy"
	"ot2-calibration/internal/messaging"
	"ot2-calibration/pkg/models"
)

// Recorder writes deployments to the history database and publishes their
// status changes. Either side may be nil. Failures are logged and never
// abort a deployment.
type Recorder struct {
	db        *gorm.DB
	publisher messaging.Publisher
	// drained is closed once the local event log has been flushed.
	drained chan struct{}
}

func NewRecorder(db *gorm.DB, publisher messaging.Publisher) *Recorder {
	return &Recorder{db: db, publisher: publisher}
}

// OpenRecorder wires the history database and event publisher described by
// cfg.
func OpenRecorder(cfg config.Config) *Recorder {
	r := &Recorder{}

	if !cfg.HistoryDisabled {
		db, err := database.NewDatabase(cfg.DatabaseURL, cfg.HistoryDB)
		if err != nil {
			slog.Warn("deployment history disabled", "error", err)
		} else {
			r.db = db
		}
	}

	if cfg.RabbitMQURL != "" {
		publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			slog.Warn("could not connect to RabbitMQ, logging deployment events locally", "error", err)
		} else {
			r.publisher = publisher
		}
	}

	if r.publisher == nil {
		queue := messaging.NewInMemoryQueue()
		r.publisher = queue
		r.drained = make(chan struct{})
		go logEvents(queue, r.drained)
	}

	return r
}

// logEvents writes every event received on receiver to the log until the
// receiver is closed.
func logEvents(receiver messaging.Receiver, drained chan<- struct{}) {
	defer close(drained)

	for event := range receiver.Events() {
		var e models.DeploymentEvent
		if err := json.Unmarshal(event.Payload(), &e); err != nil {
			slog.Warn("could not decode deployment event", "error", err)
			_ = event.Nack()
			continue
		}
		slog.Info("deployment event", "deployment_id", e.DeploymentId, "tag", e.Tag, "status", e.Status, "state", e.State, "dry_run", e.DryRun)
		_ = event.Ack()
	}
}

func (r *Recorder) DB() *gorm.DB {
	return r.db
}

func DeploymentStatus(err error) string {
	switch {
	case err == nil:
		return database.DeploymentSucceeded
	case deploy.IsDegraded(err):
		return database.DeploymentDegraded
	default:
		return database.DeploymentFailed
	}
}

func planFiles(plan *deploy.Plan) []database.DeploymentFile {
	files := make([]database.DeploymentFile, 0, len(plan.Files))
	for _, f := range plan.Files {
		files = append(files, database.DeploymentFile{
			Name:       f.Name,
			Kind:       string(f.Kind),
			Mount:      f.Mount,
			Serial:     f.Serial,
			RemotePath: f.RemotePath,
			FinalPath:  f.FinalPath,
		})
	}
	return files
}

// Start records a new running deployment of plan.
func (r *Recorder) Start(ctx context.Context, host, robotName string, plan *deploy.Plan, dryRun bool) *database.Deployment {
	d := &database.Deployment{
		Host:        host,
		RobotName:   robotName,
		Tag:         plan.Tag,
		LeftSerial:  plan.Bindings.Left(),
		RightSerial: plan.Bindings.Right(),
		DryRun:      dryRun,
		State:       string(deploy.StateStaging),
		Script:      plan.Script,
	}

	if r.db != nil {
		files, err := database.EncodeFiles(planFiles(plan))
		if err == nil {
			d.Files = files
		}
		if err := database.StartDeployment(ctx, r.db, d); err != nil {
			slog.Warn("could not record deployment", "tag", plan.Tag, "error", err)
		}
	} else {
		d.Status = database.DeploymentRunning
	}

	r.publish(ctx, d, plan, "")
	return d
}

// Finish records the outcome of a deployment started with Start.
func (r *Recorder) Finish(ctx context.Context, d *database.Deployment, plan *deploy.Plan, res *deploy.Result, deployErr error) {
	d.Status = DeploymentStatus(deployErr)
	if res != nil {
		d.State = string(res.State)
		if res.State == deploy.StateFailed {
			d.State = string(res.FailedAt)
		}
	}
	var errMsg string
	if deployErr != nil {
		errMsg = deployErr.Error()
	}
	d.Error = errMsg

	var applied []string
	if res != nil {
		applied = res.Applied
	}

	if r.db != nil {
		if err := database.FinishDeployment(ctx, r.db, d.Id, d.Status, d.State, applied, errMsg); err != nil {
			slog.Warn("could not update deployment history", "tag", d.Tag, "error", err)
		}
	}

	r.publish(ctx, d, plan, errMsg)
}

func (r *Recorder) publish(ctx context.Context, d *database.Deployment, plan *deploy.Plan, errMsg string) {
	if r.publisher == nil {
		return
	}

	event := models.DeploymentEvent{
		DeploymentId: d.Id,
		Host:         d.Host,
		RobotName:    d.RobotName,
		Tag:          d.Tag,
		Status:       d.Status,
		State:        d.State,
		Serials:      plan.Bindings.Serials(),
		DryRun:       d.DryRun,
		Error:        errMsg,
		Timestamp:    time.Now().UTC(),
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.publisher.PublishDeploymentEvent(pctx, event); err != nil {
		slog.Warn("could not publish deployment event", "tag", d.Tag, "status", d.Status, "error", err)
	}
}

func (r *Recorder) Close() {
	if r.publisher != nil {
		r.publisher.Close()
	}
	if r.drained != nil {
		<-r.drained
	}
	if r.db != nil {
		sqlDB, err := r.db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			slog.Warn("error closing history database", "error", err)
		}
	}
}
