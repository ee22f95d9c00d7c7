package frontend

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Dispatcher routes engine notifications to state mutations. It implements
// rpc.Handler and runs entirely on the rpc core's dispatch goroutine, so it
// needs no synchronization of its own and must stay quick: every method here
// blocks delivery of everything behind it.
type Dispatcher struct {
	app *App
	log *zap.Logger
}

// Notification implements rpc.Handler.
func (d *Dispatcher) Notification(method string, params json.RawMessage) {
	p := gjson.ParseBytes(params)

	switch method {
	case "update":
		id := ViewID(p.Get("view_id").String())
		if !d.app.state.applyUpdate(id, p.Get("update.ops")) {
			d.log.Warn("update for unknown view", zap.String("view_id", string(id)))
		}
	case "scroll_to":
		id := ViewID(p.Get("view_id").String())
		if !d.app.state.setScroll(id, int(p.Get("line").Int()), int(p.Get("col").Int())) {
			d.log.Warn("scroll_to for unknown view", zap.String("view_id", string(id)))
		}
	case "theme_changed":
		d.app.state.setTheme(p.Get("name").String())
	case "available_themes":
		d.app.state.setThemes(stringList(p.Get("themes")))
	case "available_languages":
		d.app.state.setLanguages(stringList(p.Get("languages")))
	case "language_changed":
		id := ViewID(p.Get("view_id").String())
		if !d.app.state.setLanguage(id, p.Get("language_id").String()) {
			d.log.Warn("language_changed for unknown view", zap.String("view_id", string(id)))
		}
	case "config_changed":
		id := ViewID(p.Get("view_id").String())
		if !d.app.state.setConfig(id, json.RawMessage(p.Get("changes").Raw)) {
			d.log.Warn("config_changed for unknown view", zap.String("view_id", string(id)))
		}
	case "available_plugins", "plugin_started", "plugin_stopped":
		d.log.Debug("plugin notification", zap.String("method", method))
	case "alert":
		d.log.Warn("engine alert", zap.String("msg", p.Get("msg").String()))
	default:
		d.log.Info("unhandled engine notification", zap.String("method", method))
	}
}

func stringList(r gjson.Result) []string {
	var out []string
	r.ForEach(func(_, item gjson.Result) bool {
		out = append(out, item.String())
		return true
	})
	return out
}
