package reviewable

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// ResolveActions returns the bundled actions actor may take right now: those
// valid for the current status that pass their guard and the guardian.
func (s *Service) ResolveActions(ctx context.Context, id int64, actor Actor) ([]BundledAction, error) {
	r, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	claim, err := s.withClaim(ctx, r)
	if err != nil {
		return nil, err
	}
	return s.resolveActions(r, claim, actor), nil
}

func (s *Service) resolveActions(r *Reviewable, claim *Claim, actor Actor) []BundledAction {
	td, ok := s.catalog.Type(r.Type)
	if !ok {
		return nil
	}
	holder := claim != nil && claim.Holder == actor.ID
	var allowed []ActionDef
	for _, a := range s.catalog.Applicable(r) {
		if !holder && s.claimNeeded(td, a.Verb) {
			continue
		}
		if s.guardian.CanPerform(a.Action, r, actor) {
			allowed = append(allowed, a)
		}
	}
	return td.Bundle(allowed)
}

// CanEdit reports whether actor may change r's editable fields now.
func (s *Service) CanEdit(r *Reviewable, actor Actor) bool {
	return s.catalog.CanEdit(r) && s.guardian.CanEdit(r, actor)
}

type PerformRequest struct {
	ID              int64
	Action          string
	Actor           Actor
	ExpectedVersion int64
	Reason          string
}

type PerformResult struct {
	Success      bool         `json:"success"`
	NewStatus    Status       `json:"new_status"`
	NewVersion   int64        `json:"version"`
	HistoryEntry HistoryEntry `json:"history_entry"`
	SideEffects  SideEffects  `json:"side_effects"`
	Reviewable   *Reviewable  `json:"reviewable"`
}

// Perform applies a catalog action. Checks run in a fixed order: stale
// version, unknown action, transition, then authorization (including the
// claim). The status change, version bump, reviewed markers and history
// entry commit together; the event is published afterwards and its failure
// does not undo the transition.
func (s *Service) Perform(ctx context.Context, req PerformRequest) (*PerformResult, error) {
	ctx, span := tracer.Start(ctx, "Perform")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("reviewable.id", req.ID),
		attribute.String("action", req.Action),
		attribute.String("actor", req.Actor.ID),
	)
	start := time.Now()

	res, err := s.perform(ctx, req)
	if err != nil {
		countConflict("perform", err)
		span.RecordError(err)
		return nil, err
	}
	performDuration.WithLabelValues(res.Reviewable.Type).Observe(time.Since(start).Seconds())
	return res, nil
}

func (s *Service) perform(ctx context.Context, req PerformRequest) (*PerformResult, error) {
	r, err := s.store.Load(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if r.Version != req.ExpectedVersion {
		return nil, &VersionConflictError{ID: r.ID, Expected: req.ExpectedVersion, Actual: r.Version}
	}
	td, def, err := s.catalog.Lookup(r.Type, req.Action)
	if err != nil {
		return nil, err
	}
	if _, err := NextStatus(r.Status, def.Verb); err != nil {
		return nil, &TransitionError{From: r.Status, Action: def.ID}
	}
	if def.Guard != nil && !def.Guard(r) {
		return nil, &TransitionError{From: r.Status, Action: def.ID}
	}
	if !s.guardian.CanPerform(def.Action, r, req.Actor) {
		return nil, fmt.Errorf("%w: %s may not %s reviewable %d", ErrPermissionDenied, req.Actor.ID, def.ID, r.ID)
	}
	if err := s.checkClaim(ctx, td, r, req.Actor, def.Verb); err != nil {
		return nil, err
	}

	now := s.now()
	var entry HistoryEntry
	updated, err := s.store.CompareAndSwap(ctx, r.ID, req.ExpectedVersion, func(cur *Reviewable) (*Mutation, error) {
		next, err := NextStatus(cur.Status, def.Verb)
		if err != nil {
			return nil, &TransitionError{From: cur.Status, Action: def.ID}
		}
		entry = HistoryEntry{
			ReviewableID: cur.ID,
			OldStatus:    cur.Status,
			NewStatus:    next,
			Actor:        req.Actor.ID,
			Action:       def.ID,
			Reason:       req.Reason,
			Version:      cur.Version + 1,
			CreatedAt:    now,
		}
		cur.Status = next
		cur.UpdatedAt = now
		m := &Mutation{History: &entry}
		if next.Terminal() {
			m.MarkReviewed = &ReviewedMarker{By: req.Actor.ID, At: now}
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	if n := len(updated.History); n > 0 {
		entry = updated.History[n-1]
	}

	var clearErr error
	if updated.Status.Terminal() {
		if clearErr = s.claims.Clear(ctx, updated.ID); clearErr != nil {
			s.logger.Warn("failed to clear claim", "id", updated.ID, "err", clearErr)
		}
	}
	if _, err := s.withClaim(ctx, updated); err != nil {
		s.logger.Warn("failed to load claim", "id", updated.ID, "err", err)
	}

	actionsPerformed.WithLabelValues(updated.Type, def.ID).Inc()
	s.logger.Info("reviewable transitioned", "id", updated.ID, "action", def.ID, "actor", req.Actor.ID, "from", entry.OldStatus, "to", updated.Status, "version", updated.Version)

	effects := s.publish(ctx, &Event{
		Kind:         EventTransitioned,
		ReviewableID: updated.ID,
		Type:         updated.Type,
		Target:       updated.Target,
		Action:       def.ID,
		Verb:         def.Verb,
		OldStatus:    entry.OldStatus,
		NewStatus:    updated.Status,
		Actor:        req.Actor.ID,
		Reason:       req.Reason,
		Score:        updated.Score,
		Version:      updated.Version,
		OccurredAt:   now,
	})
	if clearErr != nil {
		effects = SideEffectsPending
	}
	return &PerformResult{
		Success:      true,
		NewStatus:    updated.Status,
		NewVersion:   updated.Version,
		HistoryEntry: entry,
		SideEffects:  effects,
		Reviewable:   updated,
	}, nil
}

type UpdateFieldsRequest struct {
	ID              int64
	Actor           Actor
	ExpectedVersion int64
	Changes         map[string]string
	Reason          string
}

// UpdateFields edits a pending reviewable's payload through the declared
// editable fields. The edit is recorded in history without a status change.
func (s *Service) UpdateFields(ctx context.Context, req UpdateFieldsRequest) (*Reviewable, error) {
	ctx, span := tracer.Start(ctx, "UpdateFields")
	defer span.End()
	span.SetAttributes(attribute.Int64("reviewable.id", req.ID), attribute.String("actor", req.Actor.ID))

	updated, err := s.updateFields(ctx, req)
	if err != nil {
		countConflict("edit", err)
		return nil, err
	}
	return updated, nil
}

func (s *Service) updateFields(ctx context.Context, req UpdateFieldsRequest) (*Reviewable, error) {
	r, err := s.store.Load(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if r.Version != req.ExpectedVersion {
		return nil, &VersionConflictError{ID: r.ID, Expected: req.ExpectedVersion, Actual: r.Version}
	}
	if r.Status != StatusPending {
		return nil, &TransitionError{From: r.Status, Action: string(verbEdit)}
	}
	td, ok := s.catalog.Type(r.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown reviewable type %q", ErrValidation, r.Type)
	}
	if !s.guardian.CanEdit(r, req.Actor) {
		return nil, fmt.Errorf("%w: %s may not edit reviewable %d", ErrPermissionDenied, req.Actor.ID, r.ID)
	}
	if err := s.checkClaim(ctx, td, r, req.Actor, verbEdit); err != nil {
		return nil, err
	}

	now := s.now()
	updated, err := s.store.CompareAndSwap(ctx, r.ID, req.ExpectedVersion, func(cur *Reviewable) (*Mutation, error) {
		if cur.Status != StatusPending {
			return nil, &TransitionError{From: cur.Status, Action: string(verbEdit)}
		}
		fields := s.catalog.EditableFields(cur)
		payload := cur.Payload.Clone()
		if err := applyEdits(fields, &payload, req.Changes); err != nil {
			return nil, err
		}
		cur.Payload = payload
		syncCategory(fields, cur, req.Changes)
		cur.UpdatedAt = now
		return &Mutation{History: &HistoryEntry{
			ReviewableID: cur.ID,
			OldStatus:    cur.Status,
			NewStatus:    cur.Status,
			Actor:        req.Actor.ID,
			Action:       string(verbEdit),
			Reason:       req.Reason,
			Version:      cur.Version + 1,
			CreatedAt:    now,
		}}, nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.withClaim(ctx, updated); err != nil {
		return nil, err
	}
	s.logger.Info("reviewable edited", "id", updated.ID, "actor", req.Actor.ID, "version", updated.Version)
	s.publish(ctx, &Event{
		Kind:         EventEdited,
		ReviewableID: updated.ID,
		Type:         updated.Type,
		Target:       updated.Target,
		Action:       string(verbEdit),
		OldStatus:    updated.Status,
		NewStatus:    updated.Status,
		Actor:        req.Actor.ID,
		Reason:       req.Reason,
		Score:        updated.Score,
		Version:      updated.Version,
		OccurredAt:   now,
	})
	return updated, nil
}
