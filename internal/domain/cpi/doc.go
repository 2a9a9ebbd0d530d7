/*
Package cpi holds the Consumer Price Index table used for inflation math.

# Overview

A Table maps calendar years to index values. Years may be sparse and the
table is immutable once built, so a single instance is shared by every page
context in the process.

Datasets are documents of the form

	{ "data": { "1913": 9.9, "2000": 172.2, "2023": 304.702 } }

encoded as JSON, YAML or TOML, optionally gzip-compressed. The format is
taken from the file extension when known and sniffed otherwise.

# Loading

A Loader reads a Source once and caches the decoded table. A failed load is
not cached: the caller gets an empty table plus the error and the next call
retries. Concurrent first loads share a single fetch.

	loader := cpi.NewLoader(cpi.Embedded(), logger)
	table, err := loader.Load(ctx)
	if err != nil {
		// degraded mode: every conversion reports unavailable
	}

An empty table is a valid value meaning "no data".
*/
package cpi
