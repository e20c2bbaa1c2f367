package strategy

// NoopStrategy does nothing.
type NoopStrategy struct{}

func (NoopStrategy) Name() string       { return "noop" }
func (NoopStrategy) Update(payload any) { _ = payload }
