package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/discourse/discourse-sub052/reviewable"

	"github.com/labstack/echo/v4"
)

const (
	headerActorID    = "X-Reviewer-Id"
	headerActorRole  = "X-Reviewer-Role"
	headerTrustLevel = "X-Reviewer-Trust-Level"
	headerCategories = "X-Reviewer-Categories"
)

type GenericError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, reviewable.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, reviewable.ErrValidation):
		return http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, reviewable.ErrPermissionDenied):
		return http.StatusForbidden, "PermissionDenied"
	case errors.Is(err, reviewable.ErrVersionConflict):
		return http.StatusConflict, "VersionConflict"
	case errors.Is(err, reviewable.ErrClaimConflict):
		return http.StatusConflict, "ClaimConflict"
	case errors.Is(err, reviewable.ErrInvalidTransition):
		return http.StatusConflict, "InvalidTransition"
	}
	return http.StatusInternalServerError, "InternalError"
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code, name := errorStatus(err)
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		name = strings.ReplaceAll(http.StatusText(code), " ", "")
		msg = fmt.Sprintf("%s", he.Message)
	}
	if errors.Is(err, reviewable.ErrVersionConflict) {
		// the only thing a moderator can do about it
		msg = reviewable.ErrVersionConflict.Error()
	}
	if code >= 500 {
		srv.logger.Warn("reviewd-http-internal-error", "err", err)
		msg = "internal error"
	}
	if c.Response().Committed {
		return
	}
	if err := c.JSON(code, GenericError{Error: name, Message: msg}); err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}

// requireAdminToken checks the shared bearer token, when one is configured.
func (srv *Server) requireAdminToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if srv.adminToken == "" {
			return next(c)
		}
		if c.Request().Header.Get("Authorization") != "Bearer "+srv.adminToken {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing admin token")
		}
		return next(c)
	}
}

// actorFromRequest reads the acting moderator from headers set by the
// authenticating proxy in front of reviewd.
func actorFromRequest(c echo.Context) (reviewable.Actor, error) {
	h := c.Request().Header
	actor := reviewable.Actor{ID: h.Get(headerActorID)}
	if actor.ID == "" {
		return actor, echo.NewHTTPError(http.StatusUnauthorized, headerActorID+" header required")
	}
	switch strings.ToLower(h.Get(headerActorRole)) {
	case "admin":
		actor.Admin = true
	case "moderator":
		actor.Moderator = true
	}
	if raw := h.Get(headerTrustLevel); raw != "" {
		tl, err := strconv.Atoi(raw)
		if err != nil {
			return actor, fmt.Errorf("%w: invalid trust level %q", reviewable.ErrValidation, raw)
		}
		actor.TrustLevel = tl
	}
	if raw := h.Get(headerCategories); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return actor, fmt.Errorf("%w: invalid category id %q", reviewable.ErrValidation, part)
			}
			actor.Categories = append(actor.Categories, id)
		}
	}
	return actor, nil
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid reviewable id %q", reviewable.ErrValidation, c.Param("id"))
	}
	return id, nil
}

// idAndActor parses the common prefix of most handlers.
func idAndActor(c echo.Context) (int64, reviewable.Actor, error) {
	actor, err := actorFromRequest(c)
	if err != nil {
		return 0, actor, err
	}
	id, err := parseID(c)
	return id, actor, err
}

func parseListFilter(c echo.Context) (reviewable.ListFilter, error) {
	var f reviewable.ListFilter
	var err error
	if raw := c.QueryParam("status"); raw != "" {
		if f.Status, err = reviewable.ParseStatus(raw); err != nil {
			return f, err
		}
	}
	if raw := c.QueryParam("priority"); raw != "" {
		if f.Priority, err = reviewable.ParsePriority(raw); err != nil {
			return f, err
		}
	}
	f.Type = c.QueryParam("type")
	f.ClaimedBy = c.QueryParam("claimed_by")
	if raw := c.QueryParam("category_id"); raw != "" {
		cat, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return f, fmt.Errorf("%w: invalid category_id %q", reviewable.ErrValidation, raw)
		}
		f.CategoryID = &cat
	}
	if raw := c.QueryParam("min_score"); raw != "" {
		if f.MinScore, err = strconv.ParseFloat(raw, 64); err != nil {
			return f, fmt.Errorf("%w: invalid min_score %q", reviewable.ErrValidation, raw)
		}
	}
	if raw := c.QueryParam("unclaimed"); raw != "" {
		if f.Unclaimed, err = strconv.ParseBool(raw); err != nil {
			return f, fmt.Errorf("%w: invalid unclaimed %q", reviewable.ErrValidation, raw)
		}
	}
	f.Limit = 50
	if raw := c.QueryParam("limit"); raw != "" {
		if f.Limit, err = strconv.Atoi(raw); err != nil {
			return f, fmt.Errorf("%w: invalid limit %q", reviewable.ErrValidation, raw)
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if f.Offset, err = strconv.Atoi(raw); err != nil {
			return f, fmt.Errorf("%w: invalid offset %q", reviewable.ErrValidation, raw)
		}
	}
	return f, nil
}

func bindBody(c echo.Context, out any) error {
	if err := c.Bind(out); err != nil {
		return fmt.Errorf("%w: invalid request body", reviewable.ErrValidation)
	}
	return nil
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "reviewd"})
}

type ListOutput struct {
	Reviewables []*reviewable.Reviewable `json:"reviewables"`
	Limit       int                      `json:"limit"`
	Offset      int                      `json:"offset"`
}

func (srv *Server) HandleList(c echo.Context) error {
	actor, err := actorFromRequest(c)
	if err != nil {
		return err
	}
	filter, err := parseListFilter(c)
	if err != nil {
		return err
	}
	items, err := srv.svc.List(c.Request().Context(), filter, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListOutput{Reviewables: items, Limit: filter.Limit, Offset: filter.Offset})
}

// fillTrustBonus sets the trust-level bonus from the caller's trust level when
// the caller identifies as the scorer and the body left the bonus unset.
// Callers without identity headers are content services and pass bonuses
// explicitly.
func fillTrustBonus(c echo.Context, scorer string, sc *reviewable.ScoreComponents) error {
	if sc == nil || sc.TrustLevelBonus != 0 || c.Request().Header.Get(headerActorID) == "" {
		return nil
	}
	actor, err := actorFromRequest(c)
	if err != nil {
		return err
	}
	if actor.ID == scorer {
		sc.TrustLevelBonus = reviewable.TrustLevelBonus(actor.TrustLevel)
	}
	return nil
}

type EnqueueInput struct {
	Type       string                      `json:"type"`
	Target     reviewable.TargetRef        `json:"target"`
	CategoryID *int64                      `json:"category_id,omitempty"`
	TopicID    *int64                      `json:"topic_id,omitempty"`
	CreatedBy  string                      `json:"created_by"`
	Payload    reviewable.Payload          `json:"payload"`
	Scorer     string                      `json:"scorer,omitempty"`
	Score      *reviewable.ScoreComponents `json:"score,omitempty"`
}

type EnqueueOutput struct {
	Reviewable *reviewable.Reviewable `json:"reviewable"`
	Created    bool                   `json:"created"`
}

// HandleEnqueue is called by content services when something is flagged or
// held for review, so it carries no moderator identity.
func (srv *Server) HandleEnqueue(c echo.Context) error {
	var in EnqueueInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	if err := fillTrustBonus(c, in.Scorer, in.Score); err != nil {
		return err
	}
	res, err := srv.svc.Enqueue(c.Request().Context(), reviewable.EnqueueRequest{
		Type:       in.Type,
		Target:     in.Target,
		CategoryID: in.CategoryID,
		TopicID:    in.TopicID,
		CreatedBy:  in.CreatedBy,
		Payload:    in.Payload,
		Scorer:     in.Scorer,
		Score:      in.Score,
	})
	if err != nil {
		return err
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	return c.JSON(code, EnqueueOutput{Reviewable: res.Reviewable, Created: res.Created})
}

type ScoreInput struct {
	Scorer string `json:"scorer"`
	reviewable.ScoreComponents
}

func (srv *Server) HandleAddScore(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in ScoreInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	if err := fillTrustBonus(c, in.Scorer, &in.ScoreComponents); err != nil {
		return err
	}
	r, err := srv.svc.AddScore(c.Request().Context(), id, in.Scorer, in.ScoreComponents)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (srv *Server) HandleGet(c echo.Context) error {
	id, actor, err := idAndActor(c)
	if err != nil {
		return err
	}
	r, err := srv.svc.GetFor(c.Request().Context(), id, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (srv *Server) HandleDetail(c echo.Context) error {
	id, actor, err := idAndActor(c)
	if err != nil {
		return err
	}
	d, err := srv.svc.Detail(c.Request().Context(), id, actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (srv *Server) HandleActions(c echo.Context) error {
	id, actor, err := idAndActor(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := srv.svc.GetFor(ctx, id, actor); err != nil {
		return err
	}
	actions, err := srv.svc.ResolveActions(ctx, id, actor)
	if err != nil {
		return err
	}
	if actions == nil {
		actions = []reviewable.BundledAction{}
	}
	return c.JSON(http.StatusOK, map[string]any{"actions": actions})
}

func (srv *Server) HandleExplain(c echo.Context) error {
	id, actor, err := idAndActor(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := srv.svc.GetFor(ctx, id, actor); err != nil {
		return err
	}
	exp, err := srv.svc.ScoreExplanation(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exp)
}

func (srv *Server) HandleHistory(c echo.Context) error {
	id, actor, err := idAndActor(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := srv.svc.GetFor(ctx, id, actor); err != nil {
		return err
	}
	hist, err := srv.svc.History(ctx, id)
	if err != nil {
		return err
	}
	if hist == nil {
		hist = []reviewable.HistoryEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"history": hist})
}

func (srv *Server) HandleCounts(c echo.Context) error {
	if _, err := actorFromRequest(c); err != nil {
		return err
	}
	counts, err := srv.svc.Counts(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

func (srv *Server) HandleClaim(c echo.Context) error {
	id, actor, err := idAndActor(c)
	if err != nil {
		return err
	}
	claim, err := srv.svc.Claim(c.Request().Context(), id, actor)
	if err != nil {
		var cce *reviewable.ClaimConflictError
		if errors.As(err, &cce) {
			return c.JSON(http.StatusConflict, map[string]string{
				"error":   "ClaimConflict",
				"message": err.Error(),
				"holder":  cce.Holder,
			})
		}
		return err
	}
	return c.JSON(http.StatusOK, claim)
}

func (srv *Server) HandleRelease(c echo.Context) error {
	id, actor, err := idAndActor(c)
	if err != nil {
		return err
	}
	if err := srv.svc.Release(c.Request().Context(), id, actor); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type PerformInput struct {
	// Version is the version the caller last read. Required.
	Version *int64 `json:"version"`
	Reason  string `json:"reason,omitempty"`
}

func requireVersion(v *int64) (int64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: version is required", reviewable.ErrValidation)
	}
	return *v, nil
}

func (srv *Server) HandlePerform(c echo.Context) error {
	id, actor, err := idAndActor(c)
	if err != nil {
		return err
	}
	var in PerformInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	version, err := requireVersion(in.Version)
	if err != nil {
		return err
	}
	res, err := srv.svc.Perform(c.Request().Context(), reviewable.PerformRequest{
		ID:              id,
		Action:          c.Param("action"),
		Actor:           actor,
		ExpectedVersion: version,
		Reason:          in.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type FieldsInput struct {
	Version *int64            `json:"version"`
	Changes map[string]string `json:"changes"`
	Reason  string            `json:"reason,omitempty"`
}

func (srv *Server) HandleUpdateFields(c echo.Context) error {
	id, actor, err := idAndActor(c)
	if err != nil {
		return err
	}
	var in FieldsInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	version, err := requireVersion(in.Version)
	if err != nil {
		return err
	}
	r, err := srv.svc.UpdateFields(c.Request().Context(), reviewable.UpdateFieldsRequest{
		ID:              id,
		Actor:           actor,
		ExpectedVersion: version,
		Changes:         in.Changes,
		Reason:          in.Reason,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}
