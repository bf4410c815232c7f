// Package verify confirms end-to-end data flow through a provisioned
// pipeline. A marker event is injected through the real Cloud Logging write
// path and each hop is polled for evidence of the marker within a bounded
// budget. Hops are independent: one silent hop never aborts the others, and
// the report always covers every hop.
package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/constants"
	apperrors "github.com/pipewright/pipewright/internal/errors"
	"github.com/pipewright/pipewright/internal/gcp"
	"github.com/pipewright/pipewright/internal/waiter"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options bounds the per-hop polling. Budgets differ per hop because the
// hops have very different latencies: log entries appear in seconds, rows
// can take minutes to land in BigQuery.
type Options struct {
	Interval        time.Duration
	CollectorBudget time.Duration
	QueueBudget     time.Duration
	TransformBudget time.Duration
	WarehouseBudget time.Duration
	// WarehouseWindow bounds the ingestion-time window queried for the
	// marker row.
	WarehouseWindow time.Duration
	// QueuePullWait is how long a single verification pull listens.
	QueuePullWait time.Duration
}

// DefaultOptions returns the budgets used against live services.
func DefaultOptions() Options {
	return Options{
		Interval:        10 * time.Second,
		CollectorBudget: time.Minute,
		QueueBudget:     90 * time.Second,
		TransformBudget: time.Minute,
		WarehouseBudget: 3 * time.Minute,
		WarehouseWindow: 15 * time.Minute,
		QueuePullWait:   10 * time.Second,
	}
}

// Verifier runs end-to-end pipeline verification.
type Verifier struct {
	clients *gcp.Clients
	opts    Options
	log     *slog.Logger
}

// New returns a Verifier over the given clients.
func New(clients *gcp.Clients, opts Options, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{clients: clients, opts: opts, log: log}
}

// Verify injects a marker event and polls every hop for it. The returned
// report always contains a result for every hop in pipeline order; Success
// is true only when all hops observed the marker. A false hop result with no
// error means the budget ran out, which is inconclusive, not broken.
func (v *Verifier) Verify(ctx context.Context, cfg api.RunConfig) *api.VerificationReport {
	marker := uuid.NewString()
	start := time.Now().UTC()

	report := &api.VerificationReport{
		Marker:    marker,
		StartedAt: start,
		Hops:      make([]api.HopResult, len(api.Hops)),
	}
	for i, hop := range api.Hops {
		report.Hops[i] = api.HopResult{Hop: hop}
	}

	logProject := cfg.TelemetryProjectID
	if !cfg.SameProject && cfg.InferenceProjectID != "" {
		logProject = cfg.InferenceProjectID
	}

	v.log.Info("injecting verification marker", "marker", marker, "project", logProject)

	err := v.clients.Logging.WriteMarkerEntry(ctx, logProject, constants.VerificationLogName, marker,
		map[string]string{"event": "pipeline-verification", "marker": marker})
	if err != nil {
		// Without the marker in flight there is nothing to poll for.
		for i := range report.Hops {
			report.Hops[i].LastError = "marker injection failed: " + apperrors.GetErrorDetails(err)
		}
		report.CompletedAt = time.Now().UTC()
		return report
	}

	checks := map[api.Hop]func(ctx context.Context, result *api.HopResult){
		api.HopCollector: func(ctx context.Context, r *api.HopResult) {
			v.pollHop(ctx, r, v.opts.CollectorBudget, func(ctx context.Context) (int, error) {
				return v.clients.Logging.CountMarkerEntries(
					ctx, logProject, constants.VerificationLogName, marker, start)
			})
		},
		api.HopQueue: func(ctx context.Context, r *api.HopResult) {
			v.pollHop(ctx, r, v.opts.QueueBudget, func(ctx context.Context) (int, error) {
				return v.clients.PubSub.ReceiveMarker(
					ctx, cfg.TelemetryProjectID, constants.VerificationSubName, marker,
					v.opts.QueuePullWait)
			})
		},
		api.HopTransform: func(ctx context.Context, r *api.HopResult) {
			v.pollHop(ctx, r, v.opts.TransformBudget, func(ctx context.Context) (int, error) {
				_, state, err := v.clients.Dataflow.FindJob(
					ctx, cfg.TelemetryProjectID, cfg.Region, constants.TransformJobName)
				if err != nil {
					return 0, err
				}
				if state == gcp.JobStateRunning {
					return 1, nil
				}
				return 0, nil
			})
		},
		api.HopWarehouse: func(ctx context.Context, r *api.HopResult) {
			v.pollHop(ctx, r, v.opts.WarehouseBudget, func(ctx context.Context) (int, error) {
				return v.clients.BigQuery.CountMarkerRows(
					ctx, cfg.TelemetryProjectID, cfg.DatasetName, constants.RawTableName,
					marker, v.opts.WarehouseWindow)
			})
		},
	}

	// Hops are polled concurrently; each writes only its own slot, so the
	// report keeps pipeline order no matter which hop finishes first.
	g, gctx := errgroup.WithContext(ctx)
	for i, hop := range api.Hops {
		check := checks[hop]
		result := &report.Hops[i]
		g.Go(func() error {
			check(gctx, result)
			return nil
		})
	}
	_ = g.Wait()

	report.Success = true
	for _, hop := range report.Hops {
		if !hop.Success {
			report.Success = false
			break
		}
	}
	report.CompletedAt = time.Now().UTC()

	v.log.Info("verification finished", "marker", marker, "success", report.Success)

	return report
}

// pollHop polls one hop's count function until it observes the marker or the
// budget runs out, recording the outcome in result.
func (v *Verifier) pollHop(
	ctx context.Context,
	result *api.HopResult,
	budget time.Duration,
	count func(ctx context.Context) (int, error),
) {
	var lastErr error

	found, err := waiter.Await(ctx, func(ctx context.Context) (bool, error) {
		n, err := count(ctx)
		if err != nil {
			lastErr = err
			return false, err
		}
		if n > 0 {
			result.ObservedCount = n
			lastErr = nil
		}
		return n > 0, nil
	}, waiter.Options{
		Interval:    v.opts.Interval,
		Budget:      budget,
		Description: string(result.Hop) + " hop",
	})

	result.Success = found && err == nil
	if err != nil {
		lastErr = err
	}
	if lastErr != nil {
		result.LastError = apperrors.GetErrorDetails(lastErr)
	}
}
