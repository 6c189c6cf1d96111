/**
 * @description
 * This package renders risk warnings for the user and collects their answer.
 * The presenter only reads the decision it is given; the flow controller stays
 * the single owner of payment state.
 *
 * @dependencies
 * - Prompter: delivers the alert to a user and waits for abort/proceed.
 * - Speaker (optional): reads the warning aloud in the configured language.
 */

package alert

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/securepay/payment-service/internal/domain"
)

const (
	AlertTitle            = "Trust Score Alert"
	DefaultWarningMessage = "The recipient has a low trust score. Please review the details before proceeding."
)

// SafetyTips are shown with every risk alert.
var SafetyTips = []string{
	"Only send money to people you know and trust",
	"Verify the recipient's identity before proceeding",
	"Keep transaction receipts and screenshots",
	"You have 24 hours to request a refund",
}

var ErrNoPrompter = errors.New("alert prompter is not configured")

// Alert is the view model of a risk warning.
type Alert struct {
	Title         string   `json:"title"`
	Message       string   `json:"message"`
	RecipientName string   `json:"recipient_name,omitempty"`
	TrustScore    *int     `json:"trust_score,omitempty"`
	ScoreLabel    string   `json:"score_label,omitempty"`
	RiskLevel     string   `json:"risk_level,omitempty"`
	SafetyTips    []string `json:"safety_tips"`
}

// Build turns a decision into the alert the user sees.
func Build(decision domain.RiskDecision) Alert {
	a := Alert{
		Title:         AlertTitle,
		Message:       decision.Message,
		RecipientName: decision.RecipientName,
		SafetyTips:    append([]string(nil), SafetyTips...),
	}
	if a.Message == "" {
		a.Message = DefaultWarningMessage
	}
	if score, ok := decision.Score(); ok {
		a.TrustScore = &score
		a.ScoreLabel = ScoreLabel(score)
		a.RiskLevel = RiskLevel(score)
	}
	return a
}

// ScoreLabel grades a trust score for display.
func ScoreLabel(score int) string {
	switch {
	case score >= 70:
		return "Good"
	case score >= 50:
		return "Fair"
	case score >= 30:
		return "Poor"
	default:
		return "Very Poor"
	}
}

// RiskLevel is the inverse reading of ScoreLabel.
func RiskLevel(score int) string {
	switch {
	case score >= 70:
		return "Low"
	case score >= 50:
		return "Medium"
	case score >= 30:
		return "High"
	default:
		return "Very High"
	}
}

// Prompter shows an alert and waits for the user's answer.
type Prompter interface {
	Prompt(ctx context.Context, a Alert) (domain.UserChoice, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, a Alert) (domain.UserChoice, error)

func (f PrompterFunc) Prompt(ctx context.Context, a Alert) (domain.UserChoice, error) {
	return f(ctx, a)
}

// Speaker is a text-to-speech capability.
type Speaker interface {
	Voices(ctx context.Context) ([]string, error)
	Speak(ctx context.Context, text, language string) error
}

// Presenter implements the flow's presenter contract.
type Presenter struct {
	prompter Prompter
	speaker  Speaker
	language string
}

type Option func(*Presenter)

// WithSpeaker reads alerts aloud in language. Nothing is spoken when no voice for
// that exact language is installed.
func WithSpeaker(s Speaker, language string) Option {
	return func(p *Presenter) {
		p.speaker = s
		p.language = strings.TrimSpace(language)
	}
}

func NewPresenter(prompter Prompter, opts ...Option) *Presenter {
	p := &Presenter{prompter: prompter}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Present shows the warning for decision and returns the user's choice. Speech runs
// alongside the prompt and its failures are only logged.
func (p *Presenter) Present(ctx context.Context, decision domain.RiskDecision) (domain.UserChoice, error) {
	if p.prompter == nil {
		return "", ErrNoPrompter
	}
	a := Build(decision)

	if p.speaker != nil && p.language != "" {
		speechCtx, stopSpeech := context.WithCancel(ctx)
		speechDone := make(chan struct{})
		go func() {
			defer close(speechDone)
			p.speak(speechCtx, a.Message)
		}()
		defer func() {
			stopSpeech()
			<-speechDone
		}()
	}

	choice, err := p.prompter.Prompt(ctx, a)
	if err != nil {
		return "", fmt.Errorf("prompt user: %w", err)
	}
	return choice, nil
}

func (p *Presenter) speak(ctx context.Context, text string) {
	voices, err := p.speaker.Voices(ctx)
	if err != nil {
		log.Printf("level=warn component=alert msg=\"failed to list voices\" err=%v", err)
		return
	}
	if !hasVoice(voices, p.language) {
		log.Printf("level=info component=alert msg=\"no voice installed, skipping speech\" language=%s", p.language)
		return
	}
	if err := p.speaker.Speak(ctx, text, p.language); err != nil {
		log.Printf("level=warn component=alert msg=\"speech failed\" language=%s err=%v", p.language, err)
	}
}

func hasVoice(voices []string, language string) bool {
	for _, v := range voices {
		if strings.EqualFold(strings.TrimSpace(v), language) {
			return true
		}
	}
	return false
}
