// Package incident defines the aviation incident domain: the canonical
// Incident value, identity derivation, detail merging, the recency window,
// and the Store contract that persists each incident's lifecycle.
package incident
