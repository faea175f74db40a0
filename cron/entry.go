// Package cron schedules recurring jobs: each entry enqueues an ordinary
// backlog job whenever its cron expression fires.
//
// The scheduler is single-process: it holds its entries in memory and
// assumes one scheduler per store. Running schedulers in several
// processes over the same store enqueues duplicates; distributed
// coordination is deliberately out of scope.
package cron

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/ostrea/backlog/id"
	"github.com/ostrea/backlog/job"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSpec parses a cron expression and returns its schedule.
func ParseSpec(spec string) (cronlib.Schedule, error) {
	s, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("cron: parse %q: %w", spec, err)
	}
	return s, nil
}

// Entry is a recurring job definition.
type Entry struct {
	ID         id.CronID
	Name       string
	Spec       string
	Descriptor job.Descriptor

	schedule cronlib.Schedule
	nextRun  time.Time
}

// NewEntry creates an entry from a cron expression. The first occurrence
// is computed from now.
func NewEntry(name, spec string, d job.Descriptor) (*Entry, error) {
	schedule, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Entry{
		ID:         id.NewCronID(),
		Name:       name,
		Spec:       spec,
		Descriptor: d,
		schedule:   schedule,
		nextRun:    schedule.Next(now),
	}, nil
}

// NextRun returns the next occurrence.
func (e *Entry) NextRun() time.Time { return e.nextRun }

// advance moves the entry past now.
func (e *Entry) advance(now time.Time) {
	e.nextRun = e.schedule.Next(now)
}
