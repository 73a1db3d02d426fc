// Package monitor collects in-process command metrics from a bridge and
// serves them as JSON.
package monitor
