package frontend

import (
	"encoding/json"
	"sync"

	"github.com/tidwall/gjson"
)

// ViewID identifies an engine view. Assigned by the engine in new_view
// replies.
type ViewID string

// Line is one entry in a view's line cache. Invalid lines are placeholders
// the engine has not (re)sent content for.
type Line struct {
	Text  string
	Valid bool
}

// ViewState mirrors what the engine has reported about one view.
type ViewState struct {
	ID         ViewID
	Path       string
	Language   string
	Lines      []Line
	ScrollLine int
	ScrollCol  int
	Config     json.RawMessage
}

// AppState is the front-end's mirror of open views and session facts. All
// mutation happens on the rpc dispatch goroutine (notification handlers and
// request continuations); the mutex exists so presentation code on other
// goroutines can read a consistent snapshot.
type AppState struct {
	mu        sync.RWMutex
	focused   ViewID
	views     map[ViewID]*ViewState
	theme     string
	themes    []string
	languages []string
}

// NewAppState returns an empty state mirror.
func NewAppState() *AppState {
	return &AppState{views: make(map[ViewID]*ViewState)}
}

// Focused returns the focused view's ID, if any view is focused.
func (s *AppState) Focused() (ViewID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focused, s.focused != ""
}

// View returns a copy of the state for id.
func (s *AppState) View(id ViewID) (ViewState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[id]
	if !ok {
		return ViewState{}, false
	}
	cp := *v
	cp.Lines = append([]Line(nil), v.Lines...)
	return cp, true
}

// ViewCount returns the number of open views.
func (s *AppState) ViewCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.views)
}

// Theme returns the current theme name reported by the engine.
func (s *AppState) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// AvailableThemes returns the theme list announced by the engine.
func (s *AppState) AvailableThemes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.themes...)
}

// AvailableLanguages returns the language list announced by the engine.
func (s *AppState) AvailableLanguages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.languages...)
}

func (s *AppState) addView(id ViewID, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.views[id]; !ok {
		s.views[id] = &ViewState{ID: id, Path: path}
	}
	s.focused = id
}

func (s *AppState) removeView(id ViewID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, id)
	if s.focused != id {
		return
	}
	s.focused = ""
	for remaining := range s.views {
		s.focused = remaining
		break
	}
}

// applyUpdate rewrites a view's line cache from an engine update's op list.
// Updates for unknown views are dropped; in-order dispatch guarantees the
// new_view continuation has already registered the view for any update that
// follows its reply.
func (s *AppState) applyUpdate(id ViewID, ops gjson.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	if !ok {
		return false
	}
	v.Lines = applyLineOps(v.Lines, ops)
	return true
}

func (s *AppState) setScroll(id ViewID, line, col int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	if !ok {
		return false
	}
	v.ScrollLine, v.ScrollCol = line, col
	return true
}

func (s *AppState) setLanguage(id ViewID, language string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	if !ok {
		return false
	}
	v.Language = language
	return true
}

func (s *AppState) setConfig(id ViewID, changes json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[id]
	if !ok {
		return false
	}
	v.Config = append(json.RawMessage(nil), changes...)
	return true
}

func (s *AppState) setTheme(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = name
}

func (s *AppState) setThemes(themes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.themes = themes
}

func (s *AppState) setLanguages(languages []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.languages = languages
}
