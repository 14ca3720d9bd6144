// Package model defines shared data structures.
package model

import "time"

// BuildConfig defines chain build settings.
type BuildConfig struct {
	Inputs       []string
	ChainPath    string
	Format       string
	SinkDuration int64
	SinkWeight   int64
	Jobs         int
	Record       bool
	DBURL        string
}

// StreamSummary describes one processed keylog file.
type StreamSummary struct {
	Path        string
	Digest      string
	Events      int
	Transitions int
	Skipped     int
}

// RunSummary describes a recorded build run.
type RunSummary struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	ChainPath    string
	Format       string
	SinkDuration int64
	SinkWeight   int64
	Streams      int
	Events       int
	Transitions  int
	States       int
}
