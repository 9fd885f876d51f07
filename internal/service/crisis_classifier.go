package service

import (
	"strings"

	"ai-companion-care/backend/internal/models"
)

// Classification is one evaluation outcome: a fresh (severity, score)
// pair derived from the transcript window. Severity is never stored and
// transitioned; every evaluation reclassifies from scratch, so the same
// window always yields the same result.
type Classification struct {
	Severity  string `json:"severity"`
	RiskScore int    `json:"risk_score"`
}

// riskLexicon maps distress indicator phrases to score weights. Longer,
// more specific phrases are checked before their substrings matter
// because scoring sums distinct matched entries.
var riskLexicon = map[string]int{
	"kill myself":            60,
	"end my life":            60,
	"suicide":                55,
	"want to die":            50,
	"better off without me":  45,
	"hurt myself":            45,
	"self harm":              40,
	"no reason to live":      50,
	"can't go on":            35,
	"goodbye forever":        35,
	"hopeless":               20,
	"worthless":              20,
	"give up":                15,
	"can't take it anymore":  30,
	"nobody would care":      25,
	"panic attack":           15,
	"overwhelmed":            10,
	"alone":                  5,
	"scared":                 5,
	"crying":                 5,
}

// ClassifyWindow scores the user turns in the window and maps the score
// onto the three disjoint severity bands. A zero score means no risk
// signal at all; callers treat that as "no tier fires". The band
// boundaries are policy inputs, not constants, so they stay tunable
// without touching the classifier.
func ClassifyWindow(window []models.Message, mediumThreshold, highThreshold int) Classification {
	score := 0
	for i := range window {
		msg := &window[i]
		if msg.Role != models.RoleUser {
			continue
		}
		content := strings.ToLower(msg.Content)
		for phrase, weight := range riskLexicon {
			if strings.Contains(content, phrase) {
				score += weight
			}
		}
	}
	if score > 100 {
		score = 100
	}

	classification := Classification{RiskScore: score}
	switch {
	case score == 0:
		classification.Severity = ""
	case score < mediumThreshold:
		classification.Severity = models.SeverityLow
	case score < highThreshold:
		classification.Severity = models.SeverityMedium
	default:
		classification.Severity = models.SeverityHigh
	}
	return classification
}
