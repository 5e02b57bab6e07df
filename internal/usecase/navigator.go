package usecase

import (
	"fmt"
	"sync"

	"pillhelper/internal/domain"
	"pillhelper/internal/ports"
)

type speechStopper interface {
	StopAll()
}

// Navigator tracks the visible view, the side menu and the chosen language.
type Navigator struct {
	speech speechStopper
	events ports.EventSink

	mu   sync.Mutex
	view domain.View
	menu bool
	lang domain.Language
}

func NewNavigator(speech speechStopper, events ports.EventSink, lang domain.Language) *Navigator {
	if !lang.Valid() {
		lang = domain.LanguageTraditionalChinese
	}
	return &Navigator{speech: speech, events: events, view: domain.ViewHome, lang: lang}
}

// Back closes the menu if open, returns home from result or history, and
// reports exit=true when already home.
func (n *Navigator) Back() (exit bool) {
	n.mu.Lock()
	switch {
	case n.menu:
		n.menu = false
		n.mu.Unlock()
		return false
	case n.view == domain.ViewResult || n.view == domain.ViewHistory:
		n.mu.Unlock()
		n.Home()
		return false
	default:
		n.mu.Unlock()
		return true
	}
}

// Home stops any speech and shows the home view.
func (n *Navigator) Home() {
	n.speech.StopAll()
	n.Show(domain.ViewHome)
}

// Show switches view and closes the menu.
func (n *Navigator) Show(view domain.View) {
	n.mu.Lock()
	changed := n.view != view
	n.view = view
	n.menu = false
	n.mu.Unlock()

	if changed {
		n.events.ViewChanged(view)
	}
}

func (n *Navigator) OpenMenu() {
	n.mu.Lock()
	n.menu = true
	n.mu.Unlock()
}

func (n *Navigator) CloseMenu() {
	n.mu.Lock()
	n.menu = false
	n.mu.Unlock()
}

func (n *Navigator) SetLanguage(lang domain.Language) error {
	if !lang.Valid() {
		return fmt.Errorf("unsupported language %q", lang)
	}
	n.mu.Lock()
	n.lang = lang
	n.menu = false
	n.mu.Unlock()
	return nil
}

func (n *Navigator) Language() domain.Language {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lang
}

func (n *Navigator) View() domain.View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.view
}

func (n *Navigator) MenuOpen() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.menu
}
