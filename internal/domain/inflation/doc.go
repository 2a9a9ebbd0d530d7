// Package inflation converts dollar amounts between years using a CPI table.
//
// Conversions round to the cent, half away from zero. When the requested
// target year has no CPI entry yet, the latest year in the table is used
// instead; EffectiveYear exposes that resolution so labels stay honest.
// Without data every conversion reports unavailable rather than failing.
package inflation
