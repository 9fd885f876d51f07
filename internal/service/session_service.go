package service

import (
	"time"

	"ai-companion-care/backend/internal/bus"
	"ai-companion-care/backend/internal/models"
	apperrors "ai-companion-care/backend/pkg/errors"
	"ai-companion-care/backend/pkg/logger"
	"ai-companion-care/backend/pkg/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxDurationReason is the human-readable reason attached to
// scheduler-initiated terminations.
const maxDurationReason = "maximum session duration reached"

// StartSessionRequest carries the caller-supplied parameters for a
// session start. SessionID is optional: a retried client call may carry
// the id the provider already issued.
type StartSessionRequest struct {
	SessionID string  `json:"session_id"`
	UserID    *string `json:"user_id"`
	UserRole  string  `json:"-"`
	Voice     string  `json:"voice"`
	Language  string  `json:"language"`
}

// StartSessionResult is the start outcome. PreExisting marks the
// idempotent path: the returned session was already active for this user
// or id and no new row was created.
type StartSessionResult struct {
	Session     models.Session              `json:"session"`
	Config      models.SessionConfiguration `json:"config"`
	PreExisting bool                        `json:"pre_existing"`
	Limits      *QuotaLimits                `json:"limits,omitempty"`
}

// EndSessionResult is the end outcome. AlreadyEnded marks the idempotent
// path: the session was terminal before this call and no side effects
// fired.
type EndSessionResult struct {
	Session      models.Session `json:"session"`
	AlreadyEnded bool           `json:"already_ended"`
}

// SessionService owns the session state machine: quota-gated creation,
// idempotent lookups, and the single authoritative active→ended
// transition every termination path funnels through.
type SessionService struct {
	db        *gorm.DB
	bus       *bus.Bus
	quota     *QuotaService
	scheduler *TerminationScheduler
	log       *logger.Logger
}

// NewSessionService creates a session service and installs itself as the
// scheduler's fire handler.
func NewSessionService(db *gorm.DB, eventBus *bus.Bus, quota *QuotaService, scheduler *TerminationScheduler, log *logger.Logger) *SessionService {
	s := &SessionService{
		db:        db,
		bus:       eventBus,
		quota:     quota,
		scheduler: scheduler,
		log:       log,
	}
	scheduler.SetHandler(s.handleExpiry)
	return s
}

// StartSession creates a session for the caller, or returns the one that
// already exists. The active-session lookup makes duplicate requests
// from the same user converge on one row; the conditional insert makes a
// retried external id converge on one row. Both races resolve without
// locks because the store arbitrates.
func (s *SessionService) StartSession(req StartSessionRequest) (*StartSessionResult, error) {
	// Existing active session first: reusing it is not a new start, so
	// it short-circuits quota entirely.
	if req.UserID != nil && *req.UserID != "" {
		var existing models.Session
		err := s.db.Where("user_id = ? AND status = ?", *req.UserID, models.SessionActive).
			First(&existing).Error
		if err == nil {
			policy := s.quota.Policy()
			return s.preExistingResult(existing, &QuotaLimits{
				MaxSessionsPerDay:  policy.MaxSessionsPerDay,
				MaxDurationMinutes: policy.MaxDurationMinutes,
				CooldownMinutes:    policy.CooldownMinutes,
			})
		}
		if err != gorm.ErrRecordNotFound {
			return nil, apperrors.NewPersistenceError(err)
		}
	}

	decision, err := s.quota.CheckAllowed(req.UserID, req.UserRole)
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	if !decision.Allowed {
		return nil, apperrors.NewQuotaExceededError(decision.Message, decision)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	maxDuration := s.quota.Policy().MaxDurationMinutes
	session := models.Session{
		ID:                  sessionID,
		UserID:              req.UserID,
		Status:              models.SessionActive,
		CreatedAt:           time.Now(),
		MonitoringFrequency: models.MonitoringNormal,
	}

	// Insert-if-absent: a retried client call with an already-known id,
	// or a concurrent start hitting the partial unique index, lands here
	// with zero rows affected and we fall back to the existing row.
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&session)
	if result.Error != nil {
		return nil, apperrors.NewPersistenceError(result.Error)
	}
	if result.RowsAffected == 0 {
		existing, err := s.lookupExisting(sessionID, req.UserID)
		if err != nil {
			return nil, err
		}
		return s.preExistingResult(*existing, decision.Limits)
	}

	sessionConfig := models.SessionConfiguration{
		SessionID:          sessionID,
		Voice:              req.Voice,
		Language:           req.Language,
		MaxDurationMinutes: maxDuration,
		CreatedAt:          time.Now(),
	}
	if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&sessionConfig).Error; err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}

	s.scheduler.Arm(sessionID, time.Duration(maxDuration)*time.Minute)
	observability.SessionsStarted.Inc()

	event := bus.Event{
		Name:      bus.EventSessionCreated,
		SessionID: sessionID,
		Payload: map[string]any{
			"session":              session,
			"max_duration_minutes": maxDuration,
		},
	}
	s.bus.Publish(bus.SessionTopic(sessionID), event)
	s.bus.Publish(bus.Broadcast, event)

	return &StartSessionResult{
		Session: session,
		Config:  sessionConfig,
		Limits:  decision.Limits,
	}, nil
}

func (s *SessionService) lookupExisting(sessionID string, userID *string) (*models.Session, error) {
	var existing models.Session
	err := s.db.First(&existing, "id = ?", sessionID).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, apperrors.NewPersistenceError(err)
	}
	// Conflict came from the one-active-per-user index, not the id.
	if userID != nil && *userID != "" {
		err = s.db.Where("user_id = ? AND status = ?", *userID, models.SessionActive).
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, apperrors.NewPersistenceError(err)
		}
	}
	return nil, apperrors.NewNotFoundSessionError(sessionID)
}

func (s *SessionService) preExistingResult(session models.Session, limits *QuotaLimits) (*StartSessionResult, error) {
	var sessionConfig models.SessionConfiguration
	if err := s.db.First(&sessionConfig, "session_id = ?", session.ID).Error; err != nil && err != gorm.ErrRecordNotFound {
		return nil, apperrors.NewPersistenceError(err)
	}
	return &StartSessionResult{
		Session:     session,
		Config:      sessionConfig,
		PreExisting: true,
		Limits:      limits,
	}, nil
}

// EndSession transitions the session to ended on behalf of a user or
// admin caller.
func (s *SessionService) EndSession(sessionID, endedBy string) (*EndSessionResult, error) {
	return s.endSession(sessionID, endedBy, "", false)
}

// endSession is the single authoritative transition. The guarded update
// means exactly one concurrent caller wins; everyone else takes the
// already-ended branch and fires no side effects.
func (s *SessionService) endSession(sessionID, endedBy, reason string, remote bool) (*EndSessionResult, error) {
	now := time.Now()
	result := s.db.Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionActive).
		Updates(map[string]any{
			"status":   models.SessionEnded,
			"ended_at": now,
			"ended_by": endedBy,
		})
	if result.Error != nil {
		return nil, apperrors.NewPersistenceError(result.Error)
	}

	var session models.Session
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundSessionError(sessionID)
		}
		return nil, apperrors.NewPersistenceError(err)
	}

	if result.RowsAffected == 0 {
		return &EndSessionResult{Session: session, AlreadyEnded: true}, nil
	}

	s.scheduler.Disarm(sessionID)
	observability.SessionsEnded.WithLabelValues(endedBy).Inc()

	payload := map[string]any{
		"status":  models.SessionEnded,
		"endedBy": endedBy,
	}
	if remote {
		payload["remoteTermination"] = true
	}
	if reason != "" {
		payload["reason"] = reason
	}
	event := bus.Event{
		Name:      bus.EventSessionStatus,
		SessionID: sessionID,
		Payload:   payload,
	}
	s.bus.Publish(bus.SessionTopic(sessionID), event)
	s.bus.Publish(bus.Broadcast, event)

	return &EndSessionResult{Session: session}, nil
}

// handleExpiry is the scheduler fire path: system-initiated end, marked
// as a remote termination so the affected client learns why. Best
// effort: failure is logged, never retried, and the session stays
// active until a user or admin intervenes.
func (s *SessionService) handleExpiry(sessionID string) {
	result, err := s.endSession(sessionID, models.EndedBySystem, maxDurationReason, true)
	if err != nil {
		s.log.LogError(err, "auto-termination failed", "sessionId", sessionID)
		return
	}
	if result.AlreadyEnded {
		return
	}
	s.log.Info("session auto-terminated", "sessionId", sessionID)
}

// GetSession fetches one session by id.
func (s *SessionService) GetSession(sessionID string) (*models.Session, error) {
	var session models.Session
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundSessionError(sessionID)
		}
		return nil, apperrors.NewPersistenceError(err)
	}
	return &session, nil
}

// ReArmActive rebuilds the in-memory timer table after a restart: every
// still-active session gets a timer for its remaining lifetime, and
// sessions already past their deadline are ended through the normal
// conditional path.
func (s *SessionService) ReArmActive() error {
	var active []models.Session
	if err := s.db.Where("status = ?", models.SessionActive).Find(&active).Error; err != nil {
		return err
	}

	fallback := s.quota.Policy().MaxDurationMinutes
	now := time.Now()
	for _, session := range active {
		maxMinutes := fallback
		var sessionConfig models.SessionConfiguration
		if err := s.db.First(&sessionConfig, "session_id = ?", session.ID).Error; err == nil && sessionConfig.MaxDurationMinutes > 0 {
			maxMinutes = sessionConfig.MaxDurationMinutes
		}

		deadline := session.CreatedAt.Add(time.Duration(maxMinutes) * time.Minute)
		if remaining := deadline.Sub(now); remaining > 0 {
			s.scheduler.Arm(session.ID, remaining)
		} else {
			s.handleExpiry(session.ID)
		}
	}

	s.log.Info("re-armed termination timers", "activeSessions", len(active))
	return nil
}
