// Package runtime assembles the orchestration layer: broker, workflow
// tracker, billing pipeline, ledger store, and the HTTP surfaces, with
// lifecycle management. Orchestrator can be embedded in larger
// applications or run standalone from cmd/agentbridge.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	agentapi "github.com/arcfield/agentbridge/internal/api/agent"
	"github.com/arcfield/agentbridge/internal/billing"
	"github.com/arcfield/agentbridge/internal/broker"
	"github.com/arcfield/agentbridge/internal/controlplane"
	"github.com/arcfield/agentbridge/internal/domain"
	"github.com/arcfield/agentbridge/internal/pkg/config"
	"github.com/arcfield/agentbridge/internal/pkg/safehttp"
	"github.com/arcfield/agentbridge/internal/server"
	"github.com/arcfield/agentbridge/internal/storage"
	"github.com/arcfield/agentbridge/internal/storage/memory"
	"github.com/arcfield/agentbridge/internal/storage/sqlite"
	"github.com/arcfield/agentbridge/internal/tokens"
	"github.com/arcfield/agentbridge/internal/workflow"
)

// Orchestrator wires the components together and owns their lifecycle.
type Orchestrator struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.LedgerStore
	broker  *broker.Broker
	tracker *workflow.Tracker

	httpServer *http.Server
	sweeper    bool

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates an Orchestrator. By default it loads configuration from the
// environment, persists claims to SQLite, and runs the inactivity sweeper.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		logger:  slog.Default(),
		sweeper: true,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if o.cfg == nil {
		cfg, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		o.cfg = cfg
	}

	if o.store == nil {
		store, err := buildStore(o.cfg)
		if err != nil {
			return nil, fmt.Errorf("create ledger store: %w", err)
		}
		o.store = store
	}

	o.tracker = workflow.NewTracker(o.logger)

	httpClient := safehttp.Client()
	if o.cfg.Agents.AllowPrivateEndpoints {
		o.logger.Warn("private agent endpoints allowed, ssrf guard disabled")
		httpClient = &http.Client{}
	}
	client := agentapi.NewClient(
		agentapi.WithHTTPClient(httpClient),
		agentapi.WithTimeout(o.cfg.Broker.ForwardTimeoutDuration()),
	)

	brokerOpts := []broker.Option{
		broker.WithLogger(o.logger),
		broker.WithInactivityThreshold(o.cfg.Broker.InactivityThresholdDuration()),
		broker.WithEventHook(o.onEvent),
		broker.WithTerminalHook(o.onTerminal),
	}
	if est, err := tokens.NewEstimator(); err != nil {
		o.logger.Warn("token estimator unavailable", slog.String("error", err.Error()))
	} else {
		brokerOpts = append(brokerOpts, broker.WithTokenEstimator(est))
	}
	o.broker = broker.New(client, brokerOpts...)

	for _, ep := range o.cfg.Agents.Endpoints {
		o.broker.Register(ep.ID, ep.URL)
	}

	return o, nil
}

func buildStore(cfg *config.Config) (storage.LedgerStore, error) {
	switch cfg.Storage.Type {
	case "memory":
		return memory.New(), nil
	default:
		return sqlite.New(cfg.Storage.SQLite.Path)
	}
}

// Start launches the sweeper and the HTTP server. It returns once the
// listener is up; serve errors are logged.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.ctx, o.cancel = context.WithCancel(ctx)

	if o.sweeper {
		o.broker.StartSweeper(o.ctx, o.cfg.Broker.SweepIntervalDuration())
	}

	api := server.New(o.broker, o.tracker, o.logger)
	admin := controlplane.NewServer(o.broker, o.tracker, o.store)

	root := chi.NewRouter()
	root.Mount("/admin", http.StripPrefix("/admin", admin))
	root.Mount("/", api.Handler())

	o.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", o.cfg.Server.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := o.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	o.logger.Info("orchestrator started",
		slog.Int("port", o.cfg.Server.Port),
		slog.Int("preregistered_agents", len(o.cfg.Agents.Endpoints)))
	return nil
}

// Shutdown stops the HTTP server and closes the ledger store.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.logger.Info("shutting down orchestrator")

	if o.cancel != nil {
		o.cancel()
	}

	if o.httpServer != nil {
		if err := o.httpServer.Shutdown(ctx); err != nil {
			o.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			return err
		}
	}

	if err := o.store.Close(); err != nil {
		o.logger.Error("failed to close ledger store", slog.String("error", err.Error()))
	}

	o.logger.Info("orchestrator shutdown complete")
	return nil
}

// Broker exposes the session broker for embedding applications.
func (o *Orchestrator) Broker() *broker.Broker { return o.broker }

// Tracker exposes the workflow tracker for embedding applications.
func (o *Orchestrator) Tracker() *workflow.Tracker { return o.tracker }

// Store exposes the ledger store for embedding applications.
func (o *Orchestrator) Store() storage.LedgerStore { return o.store }

// onEvent drives the workflow state machine from the canonical event
// stream. Events correlate by session: the newest non-terminal workflow for
// the session is the one the agent is answering.
func (o *Orchestrator) onEvent(sessionID string, ev domain.CanonicalEvent) {
	wf := o.currentWorkflow(sessionID)
	if wf == nil {
		return
	}

	switch ev.Type {
	case domain.EventClarificationNeeded:
		o.tracker.Transition(wf.ID, workflow.PhaseClarification, ev.Clarification, "agent requested clarification")
	case domain.EventDiscoveryResult:
		o.tracker.Transition(wf.ID, workflow.PhaseDiscovery, map[string]any{
			"discoveryType": ev.DiscoveryType,
			"discoveryId":   ev.DiscoveryID,
			"items":         ev.Items,
		}, "")
	case domain.EventSelectionRequired:
		o.tracker.Transition(wf.ID, workflow.PhaseSelection, map[string]any{
			"selectionId": ev.SelectionID,
			"items":       ev.Items,
		}, "")
	case domain.EventPreviewReady:
		o.tracker.Transition(wf.ID, workflow.PhasePreview, ev.Plan, "")
	case domain.EventProgress:
		if wf.Phase != workflow.PhaseExecuting {
			o.tracker.Transition(wf.ID, workflow.PhaseExecuting, nil, "agent started executing")
		}
		if ev.Message != "" {
			msg := ev.Message
			o.tracker.UpdateProgress(wf.ID, workflow.ProgressUpdate{Message: &msg})
		}
	case domain.EventContent:
		o.tracker.Complete(wf.ID, nil)
	case domain.EventError:
		o.tracker.Error(wf.ID, ev.Error)
	case domain.EventDone:
		// Every forwarded round ends with a done event, including rounds
		// that paused at clarification or selection. Only an executing
		// workflow is finished by it.
		if ev.State == "failed" {
			o.tracker.Error(wf.ID, wf.ErrorMessage)
		} else if wf.Phase == workflow.PhaseExecuting {
			o.tracker.Complete(wf.ID, nil)
		}
	}
}

func (o *Orchestrator) currentWorkflow(sessionID string) *workflow.Workflow {
	var newest *workflow.Workflow
	for _, wf := range o.tracker.BySession(sessionID) {
		if wf.Status == workflow.StatusCompleted || wf.Status == workflow.StatusError {
			continue
		}
		if newest == nil || wf.StartedAt.After(newest.StartedAt) {
			newest = wf
		}
	}
	return newest
}

// onTerminal classifies the session's accumulated billing facts and
// persists the resulting claims with their audit snapshot. The broker
// guarantees this runs at most once per session.
func (o *Orchestrator) onTerminal(s *broker.Session) {
	snap := s.Billing.Snapshot()
	claims := billing.Classify(snap)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.store.SaveAudit(ctx, snap); err != nil {
		o.logger.Error("saving billing audit",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
	}
	if len(claims) == 0 {
		o.logger.Info("session terminal, no billable activity", slog.String("session_id", s.ID))
		return
	}
	if err := o.store.SaveClaims(ctx, claims); err != nil {
		o.logger.Error("saving billing claims",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
		return
	}

	primary := billing.PrimaryClaim(claims)
	o.logger.Info("billing claims recorded",
		slog.String("session_id", s.ID),
		slog.Int("claims", len(claims)),
		slog.String("primary_feature", primary.Type),
		slog.String("primary_source", string(primary.Source)))
}
