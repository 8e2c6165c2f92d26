package config

import "context"

type managerKey struct{}

// WithManager stores the config manager on the context so subcommands can
// reach the loaded configuration without package-level state.
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerKey{}, m)
}

// ManagerFrom retrieves the config manager stored by WithManager.
func ManagerFrom(ctx context.Context) (*Manager, bool) {
	m, ok := ctx.Value(managerKey{}).(*Manager)
	return m, ok
}
