// Package types holds the wire shapes shared by the pipeline, the HTTP API
// and the stats stream.
//
// Commands flow in from a controlling client (toggleEnabled, updateYear,
// toggleSwapDisplay, getStats); Notifications flow out after every pass
// carrying Stats.
//
//	cmd := types.Command{Action: types.ActionUpdateYear, Year: &year}
//	stats, err := page.Handle(cmd)
package types
