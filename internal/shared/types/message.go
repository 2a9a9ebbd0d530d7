package types

import "fmt"

// Action names a protocol message.
type Action string

const (
	ActionToggleEnabled     Action = "toggleEnabled"
	ActionUpdateYear        Action = "updateYear"
	ActionToggleSwapDisplay Action = "toggleSwapDisplay"
	ActionGetStats          Action = "getStats"
	ActionUpdateStats       Action = "updateStats"
	ActionError             Action = "error"
)

// Command is an inbound control message for one page. Year is nil to
// return to the detected year.
type Command struct {
	Action  Action `json:"action"`
	Enabled *bool  `json:"enabled,omitempty"`
	Year    *int   `json:"year,omitempty"`
}

// Validate checks that the fields required by Action are present.
func (c Command) Validate() error {
	switch c.Action {
	case ActionToggleEnabled, ActionToggleSwapDisplay:
		if c.Enabled == nil {
			return fmt.Errorf("%s requires enabled", c.Action)
		}
	case ActionUpdateYear, ActionGetStats:
	case "":
		return fmt.Errorf("action required")
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}
	return nil
}

// Stats describes a page's pipeline state after a pass.
type Stats struct {
	Count        int    `json:"count"`
	DetectedYear int    `json:"detectedYear"`
	CurrentYear  int    `json:"currentYear"`
	Enabled      bool   `json:"enabled"`
	SwapMode     bool   `json:"swapMode"`
	ActiveYear   int    `json:"activeYear"`
	YearOverride *int   `json:"yearOverride,omitempty"`
	YearSource   string `json:"yearSource,omitempty"`
}

// Notification is an outbound message on the stats stream.
type Notification struct {
	Action Action `json:"action"`
	PageID string `json:"pageId"`
	Stats  *Stats `json:"stats,omitempty"`
	Error  string `json:"error,omitempty"`
}
