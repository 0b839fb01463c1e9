package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/session"
	"github.com/sifan077/PowerTrack/internal/infra/logger"
	appmetrics "github.com/sifan077/PowerTrack/internal/infra/prometheus"
	"go.uber.org/zap"
)

// ClickRecorder records tracked clicks and resolves them for redirects.
type ClickRecorder interface {
	RecordClick(ctx context.Context, input TrackClickInput) (*model.ClickEvent, error)
	ResolveClick(ctx context.Context, clickID string) (*model.ClickEvent, error)
}

// TrackClickInput captures a click tracking request.
type TrackClickInput struct {
	UserID          string
	TelegramUserID  string
	StoreID         string
	StoreName       string
	OriginalURL     string
	DestinationURL  string
	Source          model.ClickSource
	SourceDetails   model.SourceDetails
	AffiliateLinkID string
	CouponID        string
	UserAgent       string
	IPAddress       string
	Referrer        string
	DeviceInfo      map[string]string
	GeoLocation     map[string]string
	UTMParams       map[string]string
	Metadata        map[string]any
}

// SessionArchive receives counter updates for sessions that already left the live store.
type SessionArchive interface {
	ApplyDelta(ctx context.Context, sessionID string, delta model.SessionDelta) error
}

type clickRecorder struct {
	sessions session.Store
	archive  SessionArchive
	clicks   repository.ClickEventRepository
	sources  repository.TrafficSourceRepository
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewClickRecorder wires a click recorder.
func NewClickRecorder(
	sessions session.Store,
	archive SessionArchive,
	clicks repository.ClickEventRepository,
	sources repository.TrafficSourceRepository,
	log *zap.Logger,
) ClickRecorder {
	return &clickRecorder{
		sessions: sessions,
		archive:  archive,
		clicks:   clicks,
		sources:  sources,
		logger:   logger.OrNop(log).Named("click_recorder"),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *clickRecorder) RecordClick(ctx context.Context, input TrackClickInput) (*model.ClickEvent, error) {
	if err := validateClick(input); err != nil {
		return nil, err
	}

	now := r.nowFn()
	sess, err := r.sessions.GetOrCreate(ctx, input.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	event := &model.ClickEvent{
		ClickID:         NewClickID(now),
		UserID:          input.UserID,
		TelegramUserID:  input.TelegramUserID,
		SessionID:       sess.SessionID,
		StoreID:         input.StoreID,
		StoreName:       input.StoreName,
		SourceID:        model.DeriveSourceID(input.Source, input.SourceDetails),
		Source:          input.Source,
		SourceDetails:   input.SourceDetails,
		OriginalURL:     input.OriginalURL,
		DestinationURL:  input.DestinationURL,
		AffiliateLinkID: input.AffiliateLinkID,
		CouponID:        input.CouponID,
		UserAgent:       input.UserAgent,
		IPAddress:       input.IPAddress,
		Referrer:        input.Referrer,
		DeviceInfo:      input.DeviceInfo,
		GeoLocation:     input.GeoLocation,
		UTMParams:       input.UTMParams,
		Metadata:        input.Metadata,
		ClickedAt:       now,
	}
	if err := r.clicks.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("save click: %w", err)
	}

	// The click is durable from here on; aggregate updates are logged on failure.
	touchSession(ctx, r.sessions, r.archive, r.logger, sess.SessionID, model.SessionDelta{Clicks: 1}, now)

	if err := r.sources.RecordClick(ctx, model.NewTrafficSource(input.Source, input.SourceDetails), now); err != nil {
		r.logger.Error("failed to update traffic source",
			zap.String("source_id", event.SourceID),
			zap.Error(err),
		)
	}

	appmetrics.ClicksTracked.WithLabelValues(string(input.Source)).Inc()
	r.logger.Debug("click recorded",
		logger.ClickID(event.ClickID),
		logger.UserID(event.UserID),
		logger.SessionID(event.SessionID),
		zap.String("source_id", event.SourceID),
	)
	return event, nil
}

func (r *clickRecorder) ResolveClick(ctx context.Context, clickID string) (*model.ClickEvent, error) {
	if strings.TrimSpace(clickID) == "" {
		return nil, fmt.Errorf("%w: click id is required", ErrInvalidInput)
	}
	return r.clicks.GetByID(ctx, clickID)
}

func validateClick(input TrackClickInput) error {
	switch {
	case strings.TrimSpace(input.UserID) == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	case strings.TrimSpace(input.StoreID) == "":
		return fmt.Errorf("%w: storeId is required", ErrInvalidInput)
	case !input.Source.Valid():
		return fmt.Errorf("%w: unknown source %q", ErrInvalidInput, input.Source)
	case input.OriginalURL == "" && input.DestinationURL == "":
		return fmt.Errorf("%w: originalUrl or destinationUrl is required", ErrInvalidInput)
	}
	for _, raw := range []string{input.OriginalURL, input.DestinationURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: invalid url %q", ErrInvalidInput, raw)
		}
	}
	return nil
}

// NewClickID mints ids of the form clk_<base36 unix millis>_<12 random hex>.
func NewClickID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return "clk_" + strconv.FormatInt(now.UnixMilli(), 36) + "_" + random
}

// touchSession applies delta to a live session, falling back to the archived
// row once the sweep has removed it.
func touchSession(ctx context.Context, store session.Store, archive SessionArchive, log *zap.Logger, sessionID string, delta model.SessionDelta, now time.Time) {
	if sessionID == "" {
		return
	}
	_, err := store.Touch(ctx, sessionID, delta, now)
	if errors.Is(err, session.ErrSessionNotFound) && archive != nil {
		err = archive.ApplyDelta(ctx, sessionID, delta)
	}
	if err != nil {
		log.Warn("failed to update session counters",
			logger.SessionID(sessionID),
			zap.Error(err),
		)
	}
}
