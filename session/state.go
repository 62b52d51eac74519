package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rebarquality/predict"
	"rebarquality/quality"
)

const (
	HistoryLimit     = 10
	DefaultThreshold = 0.85
	MinThreshold     = 0.70
	MaxThreshold     = 1.00

	ThemeLight = "light"
	ThemeDark  = "dark"
)

var (
	ErrInvalidSetting = errors.New("invalid setting")
	ErrEmptyFeedback  = errors.New("feedback message is empty")
)

// Record is one successful prediction kept in a session's history.
type Record struct {
	ID         string             `json:"id"`
	Timestamp  time.Time          `json:"timestamp"`
	Diameter   quality.Diameter   `json:"diameter"`
	Grade      quality.Grade      `json:"grade"`
	Target     quality.Target     `json:"target"`
	Prediction float64            `json:"prediction"`
	Confidence float64            `json:"confidence"`
	Pass       bool               `json:"pass"`
	Inputs     map[string]float64 `json:"inputs"`
}

func NewRecord(res *predict.Result) Record {
	return Record{
		ID:         uuid.NewString(),
		Timestamp:  res.Timestamp,
		Diameter:   res.Request.Diameter,
		Grade:      res.Request.Grade,
		Target:     res.Request.Target,
		Prediction: res.Prediction,
		Confidence: res.Confidence,
		Pass:       res.Pass,
		Inputs:     res.Request.Inputs(),
	}
}

// Feedback is the contact form. A draft is kept until a non-empty message
// is submitted.
type Feedback struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Settings are the per-session display preferences.
type Settings struct {
	Theme     string  `json:"theme"`
	Threshold float64 `json:"confidence_threshold"`
}

// State is everything one browser session owns. History is most-recent-first
// and capped at HistoryLimit.
type State struct {
	ID      string
	Created time.Time

	// predictMu serialises predictions within the session.
	predictMu sync.Mutex

	mu       sync.RWMutex
	history  []Record
	settings Settings
	draft    Feedback
	subs     map[chan []Record]struct{}
	closed   bool
}

func NewState() *State {
	return &State{
		ID:       uuid.NewString(),
		Created:  time.Now(),
		settings: Settings{Theme: ThemeLight, Threshold: DefaultThreshold},
		subs:     make(map[chan []Record]struct{}),
	}
}

// Exclusive runs fn while holding the session's prediction lock.
func (s *State) Exclusive(fn func()) {
	s.predictMu.Lock()
	defer s.predictMu.Unlock()
	fn()
}

// Record inserts rec at the front of the history and drops anything beyond
// HistoryLimit.
func (s *State) Record(rec Record) {
	s.mu.Lock()
	s.history = append([]Record{rec}, s.history...)
	if len(s.history) > HistoryLimit {
		s.history = s.history[:HistoryLimit]
	}
	s.publishLocked()
	s.mu.Unlock()
}

// History returns a copy of the history; n <= 0 returns all of it.
func (s *State) History(n int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snapshotLocked()
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

func (s *State) Clear() {
	s.mu.Lock()
	s.history = nil
	s.publishLocked()
	s.mu.Unlock()
}

func (s *State) snapshotLocked() []Record {
	return append([]Record{}, s.history...)
}

func (s *State) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// ToggleTheme flips between light and dark and returns the new theme.
func (s *State) ToggleTheme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.Theme == ThemeDark {
		s.settings.Theme = ThemeLight
	} else {
		s.settings.Theme = ThemeDark
	}
	return s.settings.Theme
}

func (s *State) SetTheme(theme string) error {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if theme != ThemeLight && theme != ThemeDark {
		return fmt.Errorf("%w: theme %q", ErrInvalidSetting, theme)
	}
	s.mu.Lock()
	s.settings.Theme = theme
	s.mu.Unlock()
	return nil
}

func (s *State) SetThreshold(v float64) error {
	if !(v >= MinThreshold && v <= MaxThreshold) {
		return fmt.Errorf("%w: confidence threshold %v not in [%.2f, %.2f]", ErrInvalidSetting, v, MinThreshold, MaxThreshold)
	}
	s.mu.Lock()
	s.settings.Threshold = v
	s.mu.Unlock()
	return nil
}

// LowConfidence reports whether c falls below the session threshold.
func (s *State) LowConfidence(c float64) bool {
	return c < s.Settings().Threshold
}

func (s *State) Draft() Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft
}

// SubmitFeedback accepts f when its message is non-empty and clears the
// draft; otherwise f is kept as the draft and ErrEmptyFeedback returned.
func (s *State) SubmitFeedback(f Feedback) (Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(f.Message) == "" {
		s.draft = f
		return Feedback{}, ErrEmptyFeedback
	}
	s.draft = Feedback{}
	f.Message = strings.TrimSpace(f.Message)
	return f, nil
}

// Subscribe returns a channel receiving history snapshots after each change,
// starting with the current one. Slow readers only see the latest snapshot.
func (s *State) Subscribe() (<-chan []Record, func()) {
	ch := make(chan []Record, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *State) publishLocked() {
	snapshot := s.snapshotLocked()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

func (s *State) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close ends every subscription; called when the session expires.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
