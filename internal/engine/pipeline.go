package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vigilstack/vigil-agent/internal/metrics"
	"github.com/vigilstack/vigil-agent/internal/models"
	"github.com/vigilstack/vigil-agent/internal/utils"
)

// EventSource supplies normalized telemetry events for one cycle.
type EventSource interface {
	Collect(ctx context.Context) ([]models.MonitoringEvent, error)
}

// ContextRetriever searches the knowledge base for cycle context.
type ContextRetriever interface {
	SearchRunbooks(ctx context.Context, query string) ([]models.Document, error)
	SearchSimilarIncidents(ctx context.Context, query string) ([]models.Document, error)
}

// Assessor produces per-event anomaly assessments.
type Assessor interface {
	Assess(ctx context.Context, events []models.MonitoringEvent, kctx models.RetrievedContext) ([]models.AnomalyAssessment, error)
}

// TicketSystem creates tracking tickets for incidents.
type TicketSystem interface {
	CreateTicket(ctx context.Context, incident *models.Incident) (models.TicketOutcome, error)
}

// Notifier delivers incident notifications over the configured channels.
type Notifier interface {
	Notify(ctx context.Context, incident *models.Incident) (models.NotificationOutcome, error)
}

// KnowledgeStore indexes incidents for future retrieval.
type KnowledgeStore interface {
	IndexIncident(ctx context.Context, incident *models.Incident) (bool, error)
}

// HealthChecker is implemented by collaborators that support a liveness probe.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Pipeline runs the seven-stage incident cycle: collect, retrieve_context,
// analyze, classify, create_tickets, notify, store. A stage failure degrades
// that stage's output and the cycle continues; only collaborator
// misconfiguration aborts before the first stage.
type Pipeline struct {
	logger     *slog.Logger
	source     EventSource
	retriever  ContextRetriever
	assessor   Assessor
	correlator *CorrelationEngine
	classifier *SeverityClassifier
	tickets    TicketSystem
	notifier   Notifier
	store      KnowledgeStore

	workers      int
	cycleTimeout time.Duration
	latencies    *utils.CycleLatency
}

// PipelineOptions tunes orchestrator behaviour.
type PipelineOptions struct {
	// Workers bounds per-incident and per-event-type concurrency. Values
	// below one serialize the fan-out stages.
	Workers int
	// CycleTimeout bounds one full cycle; zero disables the bound.
	CycleTimeout time.Duration
}

// NewPipeline constructs the orchestrator. The tickets, notifier, and store
// collaborators may be nil; their stages then record empty results.
func NewPipeline(
	logger *slog.Logger,
	source EventSource,
	retriever ContextRetriever,
	assessor Assessor,
	correlator *CorrelationEngine,
	classifier *SeverityClassifier,
	tickets TicketSystem,
	notifier Notifier,
	store KnowledgeStore,
	opts PipelineOptions,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if correlator == nil {
		correlator = NewCorrelationEngine(0)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		logger:       logger,
		source:       source,
		retriever:    retriever,
		assessor:     assessor,
		correlator:   correlator,
		classifier:   classifier,
		tickets:      tickets,
		notifier:     notifier,
		store:        store,
		workers:      workers,
		cycleTimeout: opts.CycleTimeout,
		latencies:    utils.NewCycleLatency(1024),
	}
}

// Run executes one full cycle and always returns a summary, degraded or not.
func (p *Pipeline) Run(ctx context.Context) models.CycleSummary {
	summary := models.CycleSummary{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Success:   true,
	}

	if err := p.validate(); err != nil {
		summary.Success = false
		summary.Error = err.Error()
		summary.Duration = time.Since(summary.StartedAt)
		metrics.ObserveCycle(summary)
		return summary
	}

	if p.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cycleTimeout)
		defer cancel()
	}

	recordStageErr := func(stage models.Stage, err error) {
		summary.StageErrors = append(summary.StageErrors, models.StageError{Stage: stage, Err: err.Error()})
		p.logger.Warn("stage degraded", slog.String("stage", string(stage)), slog.Any("error", err))
	}

	collect := p.runCollect(ctx, recordStageErr)
	summary.EventsCollected = len(collect.Events)

	var kctx models.ContextResult
	if p.checkpoint(ctx, models.StageRetrieveContext, &summary) {
		kctx = p.runRetrieveContext(ctx, collect, recordStageErr)
	}

	var analyze models.AnalyzeResult
	if p.checkpoint(ctx, models.StageAnalyze, &summary) {
		analyze = p.runAnalyze(ctx, collect, kctx, recordStageErr)
	}

	var classify models.ClassifyResult
	if p.checkpoint(ctx, models.StageClassify, &summary) {
		classify = p.runClassify(ctx, analyze, kctx)
	}
	summary.IncidentsCreated = len(classify.Incidents)
	summary.Incidents = classify.Incidents

	var ticketResult models.TicketResult
	if p.checkpoint(ctx, models.StageCreateTickets, &summary) {
		ticketResult = p.runCreateTickets(ctx, classify, recordStageErr)
	}
	summary.TicketsCreated = ticketResult.Tickets

	var notifyResult models.NotifyResult
	if p.checkpoint(ctx, models.StageNotify, &summary) {
		notifyResult = p.runNotify(ctx, classify, recordStageErr)
	}
	summary.NotificationsSent = notifyResult.Notifications

	var storeResult models.StoreResult
	if p.checkpoint(ctx, models.StageStore, &summary) {
		storeResult = p.runStore(ctx, classify, recordStageErr)
	}
	summary.IncidentsStored = len(storeResult.StoredIncidentIDs)

	summary.Duration = time.Since(summary.StartedAt)
	p.latencies.Observe(summary.Duration)
	metrics.ObserveCycle(summary)

	p.logger.Info("cycle complete",
		slog.String("cycle_id", summary.CycleID),
		slog.Int("events", summary.EventsCollected),
		slog.Int("incidents", summary.IncidentsCreated),
		slog.Int("tickets", len(summary.TicketsCreated)),
		slog.Int("notifications", len(summary.NotificationsSent)),
		slog.Int("stored", summary.IncidentsStored),
		slog.Duration("duration", summary.Duration),
	)
	if count := p.latencies.Count(); count >= 20 && count%20 == 0 {
		p.logger.Info("cycle latency", slog.Duration("p95", p.latencies.Percentile(95)), slog.Int("samples", count))
	}

	return summary
}

// RunContinuous repeats cycles until the context is cancelled, sleeping the
// given interval between cycles. Each cycle's state is independent.
func (p *Pipeline) RunContinuous(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	p.logger.Info("starting continuous monitoring", slog.Duration("interval", interval))

	for {
		p.Run(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("continuous monitoring stopped")
			return
		case <-time.After(interval):
		}
	}
}

// TestConnections probes every collaborator implementing HealthChecker and
// returns the per-collaborator outcome.
func (p *Pipeline) TestConnections(ctx context.Context) map[string]error {
	results := make(map[string]error)
	probe := func(name string, collaborator interface{}) {
		hc, ok := collaborator.(HealthChecker)
		if !ok {
			return
		}
		results[name] = hc.Ping(ctx)
	}
	probe("telemetry", p.source)
	probe("knowledge", p.retriever)
	probe("reasoner", p.assessor)
	probe("tickets", p.tickets)
	probe("notifier", p.notifier)
	probe("store", p.store)
	return results
}

func (p *Pipeline) validate() error {
	if p.source == nil {
		return utils.Misconfigured("pipeline.run", "event source")
	}
	if p.assessor == nil {
		return utils.Misconfigured("pipeline.run", "assessor")
	}
	if p.classifier == nil {
		return utils.Misconfigured("pipeline.run", "classifier")
	}
	return nil
}

// checkpoint is the cooperative cancellation point between stages. In-flight
// per-incident work within a stage is allowed to finish; later stages are
// skipped once the context is done.
func (p *Pipeline) checkpoint(ctx context.Context, next models.Stage, summary *models.CycleSummary) bool {
	if err := ctx.Err(); err != nil {
		summary.StageErrors = append(summary.StageErrors, models.StageError{Stage: next, Err: err.Error()})
		return false
	}
	return true
}

func (p *Pipeline) runCollect(ctx context.Context, recordStageErr func(models.Stage, error)) models.CollectResult {
	events, err := p.source.Collect(ctx)
	if err != nil {
		recordStageErr(models.StageCollect, err)
		return models.CollectResult{}
	}
	p.logger.Debug("collected events", slog.Int("count", len(events)))
	return models.CollectResult{Events: events}
}

func (p *Pipeline) runRetrieveContext(ctx context.Context, collect models.CollectResult, recordStageErr func(models.Stage, error)) models.ContextResult {
	if p.retriever == nil || len(collect.Events) == 0 {
		return models.ContextResult{}
	}

	query := contextQuery(collect.Events)

	var result models.ContextResult
	runbooks, err := p.retriever.SearchRunbooks(ctx, query)
	if err != nil {
		recordStageErr(models.StageRetrieveContext, fmt.Errorf("search runbooks: %w", err))
	} else {
		result.Context.Runbooks = runbooks
	}

	similar, err := p.retriever.SearchSimilarIncidents(ctx, query)
	if err != nil {
		recordStageErr(models.StageRetrieveContext, fmt.Errorf("search similar incidents: %w", err))
	} else {
		result.Context.SimilarIncidents = similar
	}

	p.logger.Debug("retrieved context",
		slog.Int("runbooks", len(result.Context.Runbooks)),
		slog.Int("similar_incidents", len(result.Context.SimilarIncidents)),
	)
	return result
}

// contextQuery joins truncated descriptions of the first five events into the
// knowledge search query. Events past the fifth never contribute, even when
// earlier descriptions are empty.
func contextQuery(events []models.MonitoringEvent) string {
	head := events
	if len(head) > 5 {
		head = head[:5]
	}
	parts := make([]string, 0, len(head))
	for _, ev := range head {
		if desc := utils.Truncate(ev.Description, 200); desc != "" {
			parts = append(parts, desc)
		}
	}
	return strings.Join(parts, " ")
}

// runAnalyze assesses events grouped by type. Type groups share no mutable
// state so they are assessed concurrently; a failed group degrades to neutral
// assessments instead of dropping its events.
func (p *Pipeline) runAnalyze(ctx context.Context, collect models.CollectResult, kctx models.ContextResult, recordStageErr func(models.Stage, error)) models.AnalyzeResult {
	if len(collect.Events) == 0 {
		return models.AnalyzeResult{}
	}

	byType := make(map[models.EventType][]models.MonitoringEvent)
	for _, ev := range collect.Events {
		byType[ev.EventType] = append(byType[ev.EventType], ev)
	}

	var mu sync.Mutex
	var assessments []models.AnomalyAssessment

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for eventType, events := range byType {
		eventType, events := eventType, events
		g.Go(func() error {
			result, err := p.assessor.Assess(gctx, events, kctx.Context)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				recordStageErr(models.StageAnalyze, fmt.Errorf("assess %s events: %w", eventType, err))
				for _, ev := range events {
					assessments = append(assessments, models.NeutralAssessment(ev))
				}
				return nil
			}
			assessments = append(assessments, result...)
			return nil
		})
	}
	_ = g.Wait()

	anomalies := 0
	for _, a := range assessments {
		if a.IsAnomaly {
			anomalies++
		}
	}
	p.logger.Debug("analyzed events", slog.Int("assessed", len(assessments)), slog.Int("anomalies", anomalies))
	return models.AnalyzeResult{Assessments: assessments}
}

func (p *Pipeline) runClassify(ctx context.Context, analyze models.AnalyzeResult, kctx models.ContextResult) models.ClassifyResult {
	if len(analyze.Assessments) == 0 {
		return models.ClassifyResult{}
	}
	groups := p.correlator.Correlate(analyze.Assessments)
	incidents := p.classifier.Classify(ctx, groups, kctx.Context)

	byPriority := make(map[models.Priority]int)
	for _, incident := range incidents {
		byPriority[incident.Priority]++
	}
	p.logger.Debug("classified incidents", slog.Int("count", len(incidents)), slog.Any("by_priority", byPriority))
	return models.ClassifyResult{Incidents: incidents}
}

// runCreateTickets creates one ticket per incident. Incidents are independent:
// a failure for one neither blocks nor taints its siblings, and its outcome is
// simply omitted from the accumulator.
func (p *Pipeline) runCreateTickets(ctx context.Context, classify models.ClassifyResult, recordStageErr func(models.Stage, error)) models.TicketResult {
	if p.tickets == nil || len(classify.Incidents) == 0 {
		return models.TicketResult{}
	}

	var mu sync.Mutex
	var result models.TicketResult

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for _, incident := range classify.Incidents {
		incident := incident
		g.Go(func() error {
			outcome, err := p.tickets.CreateTicket(ctx, incident)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				recordStageErr(models.StageCreateTickets, fmt.Errorf("incident %s: %w", incident.IncidentID, err))
				return nil
			}
			if err := incident.SetTicket(outcome.TicketKey, outcome.TicketURL); err != nil {
				recordStageErr(models.StageCreateTickets, err)
			}
			if outcome.AutoClosed {
				// Closure happens in the ticket system; recorded as metadata,
				// not as a lifecycle skip.
				if incident.Metadata == nil {
					incident.Metadata = make(map[string]interface{})
				}
				incident.Metadata["auto_closed"] = true
			}
			result = result.Merge(models.TicketResult{Tickets: []models.TicketOutcome{outcome}})
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (p *Pipeline) runNotify(ctx context.Context, classify models.ClassifyResult, recordStageErr func(models.Stage, error)) models.NotifyResult {
	if p.notifier == nil || len(classify.Incidents) == 0 {
		return models.NotifyResult{}
	}

	var mu sync.Mutex
	var result models.NotifyResult

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for _, incident := range classify.Incidents {
		incident := incident
		g.Go(func() error {
			outcome, err := p.notifier.Notify(ctx, incident)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				recordStageErr(models.StageNotify, fmt.Errorf("incident %s: %w", incident.IncidentID, err))
				return nil
			}
			if err := incident.RecordNotification(models.NotificationRecord{
				Timestamp: time.Now().UTC(),
				Channels:  outcome.Channels,
			}); err != nil {
				recordStageErr(models.StageNotify, err)
			}
			result = result.Merge(models.NotifyResult{Notifications: []models.NotificationOutcome{outcome}})
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (p *Pipeline) runStore(ctx context.Context, classify models.ClassifyResult, recordStageErr func(models.Stage, error)) models.StoreResult {
	if p.store == nil || len(classify.Incidents) == 0 {
		return models.StoreResult{}
	}

	var mu sync.Mutex
	var result models.StoreResult

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for _, incident := range classify.Incidents {
		incident := incident
		g.Go(func() error {
			ok, err := p.store.IndexIncident(ctx, incident)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				recordStageErr(models.StageStore, fmt.Errorf("incident %s: %w", incident.IncidentID, err))
				return nil
			}
			if ok {
				result = result.Merge(models.StoreResult{StoredIncidentIDs: []string{incident.IncidentID}})
			}
			return nil
		})
	}
	_ = g.Wait()
	return result
}
