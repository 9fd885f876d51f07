package service

import (
	"context"
	"time"

	"ai-companion-care/backend/internal/bus"
	"ai-companion-care/backend/internal/models"
	"ai-companion-care/backend/pkg/config"
	apperrors "ai-companion-care/backend/pkg/errors"
	"ai-companion-care/backend/pkg/logger"
	"ai-companion-care/backend/pkg/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// hotlineResources is the structured payload attached to emergency
// events so clients can render actionable contact options directly.
var hotlineResources = map[string]any{
	"hotlines": []map[string]string{
		{"name": "988 Suicide & Crisis Lifeline", "phone": "988", "availability": "24/7"},
		{"name": "Crisis Text Line", "sms": "Text HOME to 741741", "availability": "24/7"},
	},
	"emergency": "If you are in immediate danger, call 911.",
}

// interventionTexts holds the user-visible copy per tier, keyed by
// session language with an English fallback.
var interventionTexts = map[string]map[string]string{
	"en": {
		models.SeverityLow:    "It sounds like things are weighing on you. A slow breathing exercise can help: breathe in for four counts, hold for four, out for four. Would you like to try it together?",
		models.SeverityMedium: "I hear how hard this is for you right now, and I want you to know your feelings are valid. I'm here with you. Can you tell me a bit more about what's going on?",
		models.SeverityHigh:   "I'm really concerned about your safety right now. You don't have to face this alone. The 988 Suicide & Crisis Lifeline is available 24/7 - you can call or text 988 to reach a trained counselor immediately.",
	},
	"es": {
		models.SeverityLow:    "Parece que llevas una carga pesada. Un ejercicio de respiración lenta puede ayudar: inhala contando hasta cuatro, sostén cuatro, exhala cuatro. ¿Quieres intentarlo juntos?",
		models.SeverityMedium: "Escucho lo difícil que es esto para ti ahora mismo, y quiero que sepas que tus sentimientos son válidos. Estoy aquí contigo. ¿Puedes contarme un poco más de lo que está pasando?",
		models.SeverityHigh:   "Me preocupa mucho tu seguridad en este momento. No tienes que enfrentar esto en soledad. La línea 988 está disponible las 24 horas: llama o envía un mensaje al 988 para hablar con un consejero capacitado de inmediato.",
	},
}

// guidanceTexts is the hidden behavioral guidance injected into the
// provider channel, never rendered to the end user.
var guidanceTexts = map[string]string{
	models.SeverityMedium: "The user is showing signs of emotional distress. Respond with warmth and validation, slow the pace of the conversation, ask open questions about their support network, and avoid giving directive advice.",
	models.SeverityHigh:   "The user may be at risk of self-harm. Prioritize de-escalation: stay calm and present, validate their pain without judgment, gently and repeatedly refer them to the 988 crisis line, and do not end the conversation abruptly.",
}

// CrisisService drives the graduated intervention protocol: classify the
// transcript window, write the audit trail, then act per tier. Audit
// records always land before the corresponding publish, so a dropped
// real-time event never loses the record of what fired.
type CrisisService struct {
	db       *gorm.DB
	bus      *bus.Bus
	messages *MessageService
	cfg      *config.Config
	log      *logger.Logger
}

// NewCrisisService creates a crisis service.
func NewCrisisService(db *gorm.DB, eventBus *bus.Bus, messages *MessageService, cfg *config.Config, log *logger.Logger) *CrisisService {
	return &CrisisService{
		db:       db,
		bus:      eventBus,
		messages: messages,
		cfg:      cfg,
		log:      log,
	}
}

// Evaluate reclassifies the session's recent transcript window and runs
// the tier protocol for the result. A zero-score window is a no-op.
func (s *CrisisService) Evaluate(ctx context.Context, sessionID string) (*Classification, error) {
	var session models.Session
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundSessionError(sessionID)
		}
		return nil, apperrors.NewPersistenceError(err)
	}

	window, err := s.recentWindow(sessionID)
	if err != nil {
		return nil, err
	}

	classification := ClassifyWindow(window, s.cfg.Crisis.MediumThreshold, s.cfg.Crisis.HighThreshold)
	if classification.Severity == "" {
		return &classification, nil
	}

	observability.CrisisInterventions.WithLabelValues(classification.Severity).Inc()
	s.log.Info("crisis tier selected",
		"sessionId", sessionID,
		"severity", classification.Severity,
		"riskScore", classification.RiskScore,
	)

	if err := s.recordCrisisEvent(sessionID, "evaluation", classification, nil); err != nil {
		return nil, err
	}

	switch classification.Severity {
	case models.SeverityLow:
		err = s.actLow(ctx, sessionID, classification)
	case models.SeverityMedium:
		err = s.actMedium(ctx, sessionID, classification)
	case models.SeverityHigh:
		err = s.actHigh(ctx, &session, classification)
	}
	if err != nil {
		return nil, err
	}

	return &classification, nil
}

// recentWindow returns the newest N transcript messages in arrival
// order.
func (s *CrisisService) recentWindow(sessionID string) ([]models.Message, error) {
	var window []models.Message
	err := s.db.Where("session_id = ?", sessionID).
		Order("created_at DESC, position DESC").
		Limit(s.cfg.Crisis.WindowMessages).
		Find(&window).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window, nil
}

// actLow publishes a coping-technique message; no escalation.
func (s *CrisisService) actLow(ctx context.Context, sessionID string, c Classification) error {
	if err := s.recordAction(sessionID, c.Severity, "coping_message", nil); err != nil {
		return err
	}
	if err := s.appendIntervention(ctx, sessionID, s.interventionText(sessionID, c.Severity), false); err != nil {
		return err
	}
	s.publishDetected(sessionID, c, bus.SessionTopic(sessionID))
	return nil
}

// actMedium adds hidden provider guidance, supervisory review, and
// raised monitoring on top of the user-visible check-in.
func (s *CrisisService) actMedium(ctx context.Context, sessionID string, c Classification) error {
	if err := s.recordAction(sessionID, c.Severity, "check_in_with_guidance", nil); err != nil {
		return err
	}
	if err := s.setMonitoring(sessionID, models.MonitoringHigh); err != nil {
		return err
	}
	if err := s.appendIntervention(ctx, sessionID, s.interventionText(sessionID, c.Severity), false); err != nil {
		return err
	}
	if err := s.appendGuidance(ctx, sessionID, guidanceTexts[models.SeverityMedium]); err != nil {
		return err
	}

	s.publishDetected(sessionID, c, bus.SessionTopic(sessionID))
	s.bus.Publish(bus.Broadcast, bus.Event{
		Name:      bus.EventSupervisorReviewRequired,
		SessionID: sessionID,
		Payload: map[string]any{
			"severity":   c.Severity,
			"risk_score": c.RiskScore,
		},
	})
	return nil
}

// setMonitoring adjusts how often supervisors are expected to review
// the session.
func (s *CrisisService) setMonitoring(sessionID string, frequency string) error {
	err := s.db.Model(&models.Session{}).
		Where("id = ?", sessionID).
		Update("monitoring_frequency", frequency).Error
	if err != nil {
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

// actHigh is the full escalation: emergency resources to the user,
// hotline-bearing emergency events to both topics, de-escalation
// guidance to the provider, a human handoff, critical monitoring, and
// the session's crisis fields marked.
func (s *CrisisService) actHigh(ctx context.Context, session *models.Session, c Classification) error {
	sessionID := session.ID

	if err := s.recordAction(sessionID, c.Severity, "emergency_escalation", hotlineResources); err != nil {
		return err
	}

	err := s.db.Model(&models.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"crisis_flagged":       true,
			"crisis_severity":      c.Severity,
			"crisis_risk_score":    c.RiskScore,
			"monitoring_frequency": models.MonitoringCritical,
		}).Error
	if err != nil {
		return apperrors.NewPersistenceError(err)
	}

	handoff, err := s.initiateHandoff(sessionID, c)
	if err != nil {
		return err
	}

	if err := s.appendIntervention(ctx, sessionID, s.interventionText(sessionID, c.Severity), false); err != nil {
		return err
	}
	if err := s.appendGuidance(ctx, sessionID, guidanceTexts[models.SeverityHigh]); err != nil {
		return err
	}

	emergency := bus.Event{
		Name:      bus.EventCrisisEmergency,
		SessionID: sessionID,
		Payload: map[string]any{
			"severity":   c.Severity,
			"risk_score": c.RiskScore,
			"resources":  hotlineResources,
			"handoff_id": handoff.ID,
		},
	}
	s.publishDetected(sessionID, c, bus.SessionTopic(sessionID))
	s.bus.Publish(bus.SessionTopic(sessionID), emergency)
	s.bus.Publish(bus.Broadcast, emergency)
	return nil
}

// initiateHandoff surfaces the session for direct supervisory
// intervention. An open handoff is reused rather than duplicated, so
// repeated high-tier evaluations of the same episode keep one record.
func (s *CrisisService) initiateHandoff(sessionID string, c Classification) (*models.HumanHandoff, error) {
	var existing models.HumanHandoff
	err := s.db.Where("session_id = ? AND status = ?", sessionID, models.HandoffInitiated).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, apperrors.NewPersistenceError(err)
	}

	handoff := models.HumanHandoff{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Status:      models.HandoffInitiated,
		Reason:      "high crisis severity detected",
		RiskScore:   c.RiskScore,
		InitiatedAt: time.Now(),
	}
	if err := s.db.Create(&handoff).Error; err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return &handoff, nil
}

// AcknowledgeHandoff stamps an initiated handoff as acknowledged. The
// guarded update means the first acknowledger wins; later callers get
// the record back unchanged.
func (s *CrisisService) AcknowledgeHandoff(handoffID, acknowledgedBy string) (*models.HumanHandoff, error) {
	now := time.Now()
	result := s.db.Model(&models.HumanHandoff{}).
		Where("id = ? AND status = ?", handoffID, models.HandoffInitiated).
		Updates(map[string]any{
			"status":          models.HandoffAcknowledged,
			"acknowledged_at": now,
			"acknowledged_by": acknowledgedBy,
		})
	if result.Error != nil {
		return nil, apperrors.NewPersistenceError(result.Error)
	}

	var handoff models.HumanHandoff
	if err := s.db.First(&handoff, "id = ?", handoffID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundError(apperrors.CodeNotFound, "handoff not found")
		}
		return nil, apperrors.NewPersistenceError(err)
	}
	return &handoff, nil
}

// Flag sets the session's crisis fields from an explicit supervisory
// judgment, independent of content analysis. Re-flagging an already
// flagged session updates severity and notes in place.
func (s *CrisisService) Flag(sessionID, severity string, riskScore int, notes, flaggedBy string) (*models.Session, error) {
	result := s.db.Model(&models.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"crisis_flagged":    true,
			"crisis_severity":   severity,
			"crisis_risk_score": riskScore,
			"crisis_notes":      notes,
		})
	if result.Error != nil {
		return nil, apperrors.NewPersistenceError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewNotFoundSessionError(sessionID)
	}

	if err := s.recordAction(sessionID, severity, "manual_flag", map[string]any{"flagged_by": flaggedBy, "notes": notes}); err != nil {
		return nil, err
	}

	var session models.Session
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}

	event := bus.Event{
		Name:      bus.EventCrisisFlagged,
		SessionID: sessionID,
		Payload: map[string]any{
			"severity":   severity,
			"risk_score": riskScore,
			"flagged_by": flaggedBy,
		},
	}
	s.bus.Publish(bus.SessionTopic(sessionID), event)
	s.bus.Publish(bus.Broadcast, event)
	return &session, nil
}

// Unflag clears the crisis fields. Idempotent: unflagging a clean
// session is a no-op that still reports success.
func (s *CrisisService) Unflag(sessionID, unflaggedBy string) (*models.Session, error) {
	result := s.db.Model(&models.Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"crisis_flagged":       false,
			"crisis_severity":      nil,
			"crisis_risk_score":    nil,
			"crisis_notes":         "",
			"monitoring_frequency": models.MonitoringNormal,
		})
	if result.Error != nil {
		return nil, apperrors.NewPersistenceError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewNotFoundSessionError(sessionID)
	}

	if err := s.recordAction(sessionID, "", "manual_unflag", map[string]any{"unflagged_by": unflaggedBy}); err != nil {
		return nil, err
	}

	var session models.Session
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}

	event := bus.Event{
		Name:      bus.EventCrisisUnflagged,
		SessionID: sessionID,
		Payload:   map[string]any{"unflagged_by": unflaggedBy},
	}
	s.bus.Publish(bus.SessionTopic(sessionID), event)
	s.bus.Publish(bus.Broadcast, event)
	return &session, nil
}

// Interventions lists the session's audit trail, oldest first.
func (s *CrisisService) Interventions(sessionID string) ([]models.InterventionAction, error) {
	var actions []models.InterventionAction
	err := s.db.Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&actions).Error
	if err != nil {
		return nil, apperrors.NewPersistenceError(err)
	}
	return actions, nil
}

func (s *CrisisService) recordAction(sessionID, tier, action string, payload map[string]any) error {
	record := models.InterventionAction{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Tier:      tier,
		Action:    action,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

func (s *CrisisService) recordCrisisEvent(sessionID, eventType string, c Classification, payload map[string]any) error {
	record := models.CrisisEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		EventType: eventType,
		Severity:  c.Severity,
		RiskScore: c.RiskScore,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&record).Error; err != nil {
		return apperrors.NewPersistenceError(err)
	}
	return nil
}

// appendIntervention persists and publishes a user-visible intervention
// turn through the normal transcript path.
func (s *CrisisService) appendIntervention(ctx context.Context, sessionID, text string, hidden bool) error {
	var metadata map[string]any
	if hidden {
		metadata = map[string]any{models.MetadataHiddenKey: true}
	}
	_, err := s.messages.Append(ctx, sessionID, []IncomingMessage{{
		Role:        models.RoleSystem,
		MessageType: models.TypeCrisisIntervention,
		Content:     text,
		Metadata:    metadata,
	}})
	return err
}

// appendGuidance persists the hidden provider-only guidance turn.
func (s *CrisisService) appendGuidance(ctx context.Context, sessionID, text string) error {
	_, err := s.messages.Append(ctx, sessionID, []IncomingMessage{{
		Role:        models.RoleSystem,
		MessageType: models.TypeAIGuidance,
		Content:     text,
		Metadata:    map[string]any{models.MetadataHiddenKey: true},
	}})
	return err
}

func (s *CrisisService) publishDetected(sessionID string, c Classification, topic string) {
	s.bus.Publish(topic, bus.Event{
		Name:      bus.EventCrisisDetected,
		SessionID: sessionID,
		Payload: map[string]any{
			"severity":   c.Severity,
			"risk_score": c.RiskScore,
		},
	})
}

// interventionText resolves the tier copy in the session's configured
// language, defaulting to English.
func (s *CrisisService) interventionText(sessionID, severity string) string {
	language := "en"
	var sessionConfig models.SessionConfiguration
	if err := s.db.First(&sessionConfig, "session_id = ?", sessionID).Error; err == nil && sessionConfig.Language != "" {
		if _, ok := interventionTexts[sessionConfig.Language]; ok {
			language = sessionConfig.Language
		}
	}
	return interventionTexts[language][severity]
}
