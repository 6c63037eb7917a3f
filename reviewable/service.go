package reviewable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// ClaimMode controls whether moderators must claim before acting.
type ClaimMode string

const (
	ClaimDisabled ClaimMode = "disabled"
	// only types declaring ClaimRequired enforce claims
	ClaimOptional ClaimMode = "optional"
	ClaimRequired ClaimMode = "required"
)

func ParseClaimMode(raw string) (ClaimMode, error) {
	switch ClaimMode(raw) {
	case ClaimDisabled, ClaimOptional, ClaimRequired:
		return ClaimMode(raw), nil
	case "":
		return ClaimOptional, nil
	}
	return "", fmt.Errorf("%w: unknown claim mode %q", ErrValidation, raw)
}

type Config struct {
	Store    PersistenceStore
	Claims   ClaimStore
	Guardian Guardian
	// optional; defaults to NopBus
	Events EventBus
	// optional; Detail skips target resolution without one
	Targets TargetResolver
	// optional; defaults to DefaultCatalog()
	Catalog    *Catalog
	Thresholds Thresholds
	ClaimMode  ClaimMode
	Logger     *slog.Logger
	// optional clock, for tests
	Now func() time.Time
}

// Service is the review queue: triage listing, claims, scoring and
// resolution actions over a PersistenceStore.
type Service struct {
	store     PersistenceStore
	claims    ClaimStore
	guardian  Guardian
	events    EventBus
	targets   TargetResolver
	catalog   *Catalog
	agg       *ScoreAggregator
	claimMode ClaimMode
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(config Config) (*Service, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("review queue requires a persistence store")
	}
	if config.Claims == nil {
		return nil, fmt.Errorf("review queue requires a claim store")
	}
	if config.Guardian == nil {
		return nil, fmt.Errorf("review queue requires a guardian")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	events := config.Events
	if events == nil {
		events = NopBus
	}
	catalog := config.Catalog
	if catalog == nil {
		c, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	thresholds := config.Thresholds
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	agg, err := NewScoreAggregator(thresholds)
	if err != nil {
		return nil, err
	}
	mode := config.ClaimMode
	if mode == "" {
		mode = ClaimOptional
	}
	if _, err := ParseClaimMode(string(mode)); err != nil {
		return nil, err
	}
	now := config.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:     config.Store,
		claims:    config.Claims,
		guardian:  config.Guardian,
		events:    events,
		targets:   config.Targets,
		catalog:   catalog,
		agg:       agg,
		claimMode: mode,
		logger:    logger.With("component", "reviewqueue"),
		now:       now,
	}, nil
}

func (s *Service) Catalog() *Catalog             { return s.catalog }
func (s *Service) Aggregator() *ScoreAggregator { return s.agg }

// publish hands evt to the bus. Failures are logged and counted, never
// returned: the mutation has already committed.
func (s *Service) publish(ctx context.Context, evt *Event) SideEffects {
	if err := s.events.Publish(ctx, evt); err != nil {
		eventPublishFailures.WithLabelValues(string(evt.Kind)).Inc()
		s.logger.Warn("failed to publish reviewable event", "id", evt.ReviewableID, "kind", evt.Kind, "err", err)
		return SideEffectsPending
	}
	return SideEffectsDelivered
}

// withClaim fills r.ClaimedBy from the claim store.
func (s *Service) withClaim(ctx context.Context, r *Reviewable) (*Claim, error) {
	c, err := s.claims.Holder(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("loading claim for reviewable %d: %w", r.ID, err)
	}
	r.ClaimedBy = nil
	if c != nil {
		holder := c.Holder
		r.ClaimedBy = &holder
	}
	return c, nil
}

type EnqueueRequest struct {
	Type       string
	Target     TargetRef
	CategoryID *int64
	TopicID    *int64
	CreatedBy  string
	Payload    Payload
	// Scorer and Score record the flag that caused the enqueue, if any.
	Scorer string
	Score  *ScoreComponents
}

type EnqueueResult struct {
	Reviewable *Reviewable
	Created    bool
}

// Enqueue creates the reviewable for a target, or adds the flag's score to
// the existing one. A target has at most one reviewable per type; once that
// reviewable is resolved, further flags are rejected until it is reverted.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	ctx, span := tracer.Start(ctx, "Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("type", req.Type), attribute.String("target", req.Target.String()))

	td, ok := s.catalog.Type(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown reviewable type %q", ErrValidation, req.Type)
	}
	if req.Target.ID == "" || req.Target.Type == "" {
		return nil, fmt.Errorf("%w: target id and type required", ErrValidation)
	}
	if err := req.Payload.Validate(); err != nil {
		return nil, err
	}
	if req.Payload.Kind != PayloadNone && req.Payload.Kind != td.PayloadKind {
		return nil, fmt.Errorf("%w: payload kind %q does not match type %q", ErrValidation, req.Payload.Kind, td.Name)
	}
	categoryID, payload, err := reconcileCategory(req.CategoryID, req.Payload.Clone())
	if err != nil {
		return nil, err
	}
	if req.Score != nil {
		if err := s.agg.Validate(req.Scorer, *req.Score); err != nil {
			return nil, err
		}
	}

	existing, err := s.store.FindByTarget(ctx, req.Type, req.Target)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		if req.Score == nil {
			return &EnqueueResult{Reviewable: existing}, nil
		}
		r, err := s.AddScore(ctx, existing.ID, req.Scorer, *req.Score)
		if err != nil {
			return nil, err
		}
		return &EnqueueResult{Reviewable: r}, nil
	}

	now := s.now()
	r := &Reviewable{
		Type:       req.Type,
		Status:     StatusPending,
		Target:     req.Target,
		CategoryID: categoryID,
		TopicID:    req.TopicID,
		CreatedBy:  req.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
		Payload:    payload,
	}
	if req.Score != nil {
		sc, err := s.agg.NewScore(0, req.Scorer, *req.Score, now)
		if err != nil {
			return nil, err
		}
		r.Scores = []Score{sc}
	}
	s.agg.Recompute(r)

	created, err := s.store.Create(ctx, r)
	if err != nil {
		return nil, err
	}
	reviewablesCreated.WithLabelValues(created.Type).Inc()
	if req.Score != nil {
		scoresAdded.WithLabelValues(created.Type, r.Scores[0].ScoreType).Inc()
	}
	s.logger.Info("reviewable created", "id", created.ID, "type", created.Type, "target", created.Target.String(), "score", created.Score)
	s.publish(ctx, &Event{
		Kind:         EventCreated,
		ReviewableID: created.ID,
		Type:         created.Type,
		Target:       created.Target,
		NewStatus:    created.Status,
		Actor:        created.CreatedBy,
		Score:        created.Score,
		Version:      created.Version,
		OccurredAt:   now,
	})
	return &EnqueueResult{Reviewable: created, Created: true}, nil
}

// reconcileCategory makes the request category and a post payload's category
// agree, filling whichever side is missing.
func reconcileCategory(categoryID *int64, p Payload) (*int64, Payload, error) {
	if p.Post == nil {
		return categoryID, p, nil
	}
	switch {
	case categoryID == nil && p.Post.CategoryID > 0:
		id := p.Post.CategoryID
		categoryID = &id
	case categoryID != nil && p.Post.CategoryID == 0:
		p.Post.CategoryID = *categoryID
	case categoryID != nil && *categoryID != p.Post.CategoryID:
		return nil, p, fmt.Errorf("%w: category_id %d does not match post category %d", ErrValidation, *categoryID, p.Post.CategoryID)
	}
	return categoryID, p, nil
}

// AddScore records a flagger's contribution and recomputes score and
// priority under the version guard. A concurrent mutation surfaces as a
// VersionConflict; it is not retried here.
func (s *Service) AddScore(ctx context.Context, id int64, scorer string, c ScoreComponents) (*Reviewable, error) {
	ctx, span := tracer.Start(ctx, "AddScore")
	defer span.End()
	span.SetAttributes(attribute.Int64("reviewable.id", id))

	if err := s.agg.Validate(scorer, c); err != nil {
		return nil, err
	}
	cur, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var sc Score
	updated, err := s.store.CompareAndSwap(ctx, id, cur.Version, func(r *Reviewable) (*Mutation, error) {
		if r.Status.Terminal() {
			return nil, &TransitionError{From: r.Status, Action: "score"}
		}
		var err error
		sc, err = s.agg.NewScore(r.ID, scorer, c, now)
		if err != nil {
			return nil, err
		}
		r.Scores = append(r.Scores, sc)
		s.agg.Recompute(r)
		r.UpdatedAt = now
		return &Mutation{AddScores: []Score{sc}}, nil
	})
	if err != nil {
		countConflict("score", err)
		return nil, err
	}
	scoresAdded.WithLabelValues(updated.Type, sc.ScoreType).Inc()
	s.publish(ctx, &Event{
		Kind:         EventScored,
		ReviewableID: updated.ID,
		Type:         updated.Type,
		Target:       updated.Target,
		NewStatus:    updated.Status,
		Actor:        scorer,
		Score:        updated.Score,
		Version:      updated.Version,
		OccurredAt:   now,
	})
	if _, err := s.withClaim(ctx, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Get returns a reviewable with its scores, history and current claim.
func (s *Service) Get(ctx context.Context, id int64) (*Reviewable, error) {
	r, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.withClaim(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetFor is Get restricted to reviewables actor may see.
func (s *Service) GetFor(ctx context.Context, id int64, actor Actor) (*Reviewable, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.guardian.CanSee(r, actor) {
		return nil, ErrPermissionDenied
	}
	return r, nil
}

// List returns the triage queue for actor: score descending, then oldest
// first. Items the actor may not see are dropped.
func (s *Service) List(ctx context.Context, filter ListFilter, actor Actor) ([]*Reviewable, error) {
	ctx, span := tracer.Start(ctx, "List")
	defer span.End()

	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrValidation)
	}
	// claim filtering and visibility happen here, so pagination does too
	storeFilter := filter
	storeFilter.Limit = 0
	storeFilter.Offset = 0
	items, err := s.store.List(ctx, storeFilter)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(items))
	for i, r := range items {
		ids[i] = r.ID
	}
	holders, err := s.claims.Holders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading claims: %w", err)
	}
	out := make([]*Reviewable, 0, len(items))
	for _, r := range items {
		if c, ok := holders[r.ID]; ok {
			holder := c.Holder
			r.ClaimedBy = &holder
		}
		if filter.Unclaimed && r.ClaimedBy != nil {
			continue
		}
		if filter.ClaimedBy != "" && (r.ClaimedBy == nil || *r.ClaimedBy != filter.ClaimedBy) {
			continue
		}
		if !s.guardian.CanSee(r, actor) {
			continue
		}
		out = append(out, r)
	}
	SortForTriage(out)
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*Reviewable{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Detail is everything presentation needs to render one reviewable for an
// actor.
type Detail struct {
	Reviewable     *Reviewable      `json:"reviewable"`
	Target         *Target          `json:"target,omitempty"`
	Actions        []BundledAction  `json:"actions"`
	EditableFields []EditableField  `json:"editable_fields"`
	CanEdit        bool             `json:"can_edit"`
	Claim          *Claim           `json:"claim,omitempty"`
	Explanation    ScoreExplanation `json:"score_explanation"`
}

func (s *Service) Detail(ctx context.Context, id int64, actor Actor) (*Detail, error) {
	ctx, span := tracer.Start(ctx, "Detail")
	defer span.End()

	r, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	claim, err := s.withClaim(ctx, r)
	if err != nil {
		return nil, err
	}
	if !s.guardian.CanSee(r, actor) {
		return nil, ErrPermissionDenied
	}
	d := &Detail{
		Reviewable:  r,
		Claim:       claim,
		Actions:     s.resolveActions(r, claim, actor),
		Explanation: s.agg.Explain(r),
	}
	if s.CanEdit(r, actor) {
		d.CanEdit = true
		d.EditableFields = s.catalog.EditableFields(r)
	}
	if s.targets != nil {
		t, err := s.targets.Resolve(ctx, r.Target)
		if err != nil {
			return nil, fmt.Errorf("resolving target %s: %w", r.Target, err)
		}
		d.Target = t
	}
	return d, nil
}

func (s *Service) ScoreExplanation(ctx context.Context, id int64) (*ScoreExplanation, error) {
	r, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	exp := s.agg.Explain(r)
	return &exp, nil
}

// History returns the audit trail in insertion order.
func (s *Service) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	if _, err := s.store.Load(ctx, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

// Counts returns pending reviewables per priority and refreshes the
// pending gauge.
func (s *Service) Counts(ctx context.Context) (map[Priority]int, error) {
	counts, err := s.store.CountPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh} {
		pendingGauge.WithLabelValues(string(p)).Set(float64(counts[p]))
	}
	return counts, nil
}
