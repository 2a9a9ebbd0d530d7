package pipeline

import (
	"github.com/GriffinCanCode/InflationLens/internal/domain/dating"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
)

// Trigger names what started an annotation pass.
type Trigger string

const (
	TriggerInitial  Trigger = "initial"
	TriggerMutation Trigger = "mutation"
	TriggerRerun    Trigger = "rerun"
)

// State is the mutable pipeline record of one page context.
type State struct {
	Enabled      bool
	YearOverride *int
	DetectedYear int
	YearSource   dating.Source
	SwapMode     bool
	RunningTotal int
}

// ActiveYear is the year prices are read as: the override when set,
// otherwise the detected year.
func (s State) ActiveYear() int {
	if s.YearOverride != nil {
		return *s.YearOverride
	}
	return s.DetectedYear
}

func (s State) stats(currentYear int) types.Stats {
	st := types.Stats{
		Count:        s.RunningTotal,
		DetectedYear: s.DetectedYear,
		CurrentYear:  currentYear,
		Enabled:      s.Enabled,
		SwapMode:     s.SwapMode,
		ActiveYear:   s.ActiveYear(),
		YearSource:   string(s.YearSource),
	}
	if s.YearOverride != nil {
		y := *s.YearOverride
		st.YearOverride = &y
		st.YearSource = string(dating.SourceOverride)
	}
	return st
}

// Notifier receives stats after every pass. Publish must not block.
type Notifier interface {
	Publish(pageID string, stats types.Stats)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(pageID string, stats types.Stats)

// Publish implements Notifier.
func (f NotifierFunc) Publish(pageID string, stats types.Stats) { f(pageID, stats) }

// PageCloser is implemented by notifiers that hold per-page resources.
type PageCloser interface {
	PageClosed(pageID string)
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, types.Stats) {}
