package handlers

import (
	"github.com/turnengine/turnengine/internal/infrastructure/monitoring"
	"github.com/turnengine/turnengine/internal/infrastructure/plugin"
)

// monitorAdapter narrows *monitoring.Monitor to the Monitor interface this
// package's DebugHandler expects, boxing its concretely-typed history and
// dashboard snapshots as interface{} for JSON serialization.
type monitorAdapter struct{ m *monitoring.Monitor }

// NewMonitorAdapter adapts a concrete Monitor for DebugHandler.
func NewMonitorAdapter(m *monitoring.Monitor) Monitor { return &monitorAdapter{m: m} }

func (a *monitorAdapter) GetStats() map[string]interface{} { return a.m.GetStats() }

func (a *monitorAdapter) GetHistory() []interface{} {
	hist := a.m.GetHistory()
	out := make([]interface{}, len(hist))
	for i, h := range hist {
		out[i] = h
	}
	return out
}

func (a *monitorAdapter) GetDashboardData() interface{} { return a.m.GetDashboardData() }

// pluginLoaderAdapter narrows *plugin.Loader to the PluginLoader interface.
type pluginLoaderAdapter struct{ l *plugin.Loader }

// NewPluginLoaderAdapter adapts a concrete Loader for DebugHandler.
func NewPluginLoaderAdapter(l *plugin.Loader) PluginLoader { return &pluginLoaderAdapter{l: l} }

func (a *pluginLoaderAdapter) List() []interface{} {
	metas := a.l.List()
	out := make([]interface{}, len(metas))
	for i, m := range metas {
		out[i] = m
	}
	return out
}

func (a *pluginLoaderAdapter) Get(name string) (interface{}, bool) {
	return a.l.Get(name)
}
