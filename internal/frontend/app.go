package frontend

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"skiff/internal/rpc"
)

// App is the outbound half of the front-end: helpers that turn user intents
// into engine traffic. It holds a non-owning handle to the rpc core — the
// core's lifetime belongs to whoever wired it to the engine process, and the
// App never extends or ends it.
type App struct {
	log   *zap.Logger
	state *AppState

	mu   sync.RWMutex
	core *rpc.Core
}

// New creates the App and its Dispatcher together, so the dispatcher's
// back-reference exists before any traffic can flow. The returned Dispatcher
// is handed to rpc.NewCore; the resulting core is then given to the App via
// Bind, once, before the first send.
func New(log *zap.Logger) (*App, *Dispatcher) {
	if log == nil {
		log = zap.NewNop()
	}
	app := &App{log: log, state: NewAppState()}
	return app, &Dispatcher{app: app, log: log.Named("dispatch")}
}

// Bind attaches the rpc core. Called exactly once during startup wiring,
// before any helper is used.
func (a *App) Bind(core *rpc.Core) {
	a.mu.Lock()
	a.core = core
	a.mu.Unlock()
}

// State returns the live state mirror.
func (a *App) State() *AppState {
	return a.state
}

func (a *App) rpc() (*rpc.Core, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.core == nil {
		return nil, ErrNotBound
	}
	return a.core, nil
}

// ClientStarted announces the front-end to the engine. Sent once, first.
func (a *App) ClientStarted() error {
	core, err := a.rpc()
	if err != nil {
		return err
	}
	return core.SendNotification("client_started", json.RawMessage(`{}`))
}

// SetTheme asks the engine to switch themes.
func (a *App) SetTheme(name string) error {
	core, err := a.rpc()
	if err != nil {
		return err
	}
	params, err := sjson.SetBytes([]byte(`{}`), "theme_name", name)
	if err != nil {
		return fmt.Errorf("build set_theme params: %w", err)
	}
	return core.SendNotification("set_theme", json.RawMessage(params))
}

// NewView asks the engine to create a view, optionally backed by a file.
// The engine's reply carries the view identifier; the continuation registers
// the view in the state mirror and focuses it. Any update notification for
// the new view is emitted by the engine only after its reply, and dispatch
// preserves that order, so the mirror entry always exists by then.
func (a *App) NewView(path string) error {
	core, err := a.rpc()
	if err != nil {
		return err
	}

	params := []byte(`{}`)
	if path != "" {
		if params, err = sjson.SetBytes(params, "file_path", path); err != nil {
			return fmt.Errorf("build new_view params: %w", err)
		}
	}

	return core.SendRequest("new_view", json.RawMessage(params), func(result json.RawMessage, err error) {
		if err != nil {
			a.log.Error("new_view failed", zap.String("path", path), zap.Error(err))
			return
		}
		id := gjson.ParseBytes(result).String()
		if id == "" {
			a.log.Warn("new_view reply carried no view id", zap.ByteString("result", result))
			return
		}
		a.state.addView(ViewID(id), path)
		a.log.Info("view created", zap.String("view_id", id), zap.String("path", path))
	})
}

// CloseView tells the engine a view is gone and drops its mirror entry.
func (a *App) CloseView(id ViewID) error {
	core, err := a.rpc()
	if err != nil {
		return err
	}
	params, err := sjson.SetBytes([]byte(`{}`), "view_id", string(id))
	if err != nil {
		return fmt.Errorf("build close_view params: %w", err)
	}
	if err := core.SendNotification("close_view", json.RawMessage(params)); err != nil {
		return err
	}
	a.state.removeView(id)
	return nil
}

// SendEditCommand sends a view-scoped command (insert, undo, select_all,
// add_selection_above, ...) against the focused view, wrapped the way the
// engine expects edit traffic:
//
//	{"method": "edit", "params": {"method": <cmd>, "view_id": <focused>, "params": <params>}}
//
// Returns ErrNoFocusedView when no view is focused.
func (a *App) SendEditCommand(method string, params any) error {
	core, err := a.rpc()
	if err != nil {
		return err
	}
	focused, ok := a.state.Focused()
	if !ok {
		return ErrNoFocusedView
	}

	raw := json.RawMessage(`{}`)
	if params != nil {
		if raw, err = json.Marshal(params); err != nil {
			return fmt.Errorf("marshal %q params: %w", method, err)
		}
	}

	wrapped := []byte(`{}`)
	if wrapped, err = sjson.SetBytes(wrapped, "method", method); err != nil {
		return fmt.Errorf("build edit payload: %w", err)
	}
	if wrapped, err = sjson.SetBytes(wrapped, "view_id", string(focused)); err != nil {
		return fmt.Errorf("build edit payload: %w", err)
	}
	if wrapped, err = sjson.SetRawBytes(wrapped, "params", raw); err != nil {
		return fmt.Errorf("build edit payload: %w", err)
	}

	return core.SendNotification("edit", json.RawMessage(wrapped))
}
