package startup

import "context"

// Func adapts a pair of functions to a Dependency. Nil functions are no-ops.
type Func struct {
	Name     string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (f *Func) GetName() string {
	return f.Name
}

func (f *Func) DependsOn() []string {
	return f.Requires
}

func (f *Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f *Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}
