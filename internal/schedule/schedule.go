// Package schedule turns auto_backup entries into cron jobs, either as
// crontab lines or run in-process.
package schedule

import (
	"fmt"
	"time"

	"github.com/aelpxy/abackup/pkg/models"
	"github.com/robfig/cron/v3"
)

const DefaultFrequency = "0 0 * * *"

type Job struct {
	Project      string
	Container    string
	Frequency    string
	Notify       string
	Healthchecks bool
}

// Validate parses a standard five-field cron spec (descriptors like @daily
// are accepted too).
func Validate(frequency string) error {
	if _, err := cron.ParseStandard(frequency); err != nil {
		return fmt.Errorf("invalid frequency %q: %w", frequency, err)
	}
	return nil
}

func Next(frequency string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(frequency)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid frequency %q: %w", frequency, err)
	}
	return sched.Next(from), nil
}

// Jobs lists one job per auto_backup entry of the selected containers.
func Jobs(project string, containers []models.Container) []Job {
	var jobs []Job
	for _, c := range containers {
		for _, auto := range c.Backup.AutoBackup {
			job := Job{
				Project:      project,
				Container:    c.Name,
				Frequency:    auto.Frequency,
				Notify:       auto.Notify,
				Healthchecks: auto.Healthchecks || c.Backup.Healthchecks != nil,
			}
			if job.Frequency == "" {
				job.Frequency = DefaultFrequency
			}
			if job.Notify == "" {
				job.Notify = "auto"
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}
