package perf

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/foreman-pm/foreman/internal/jobs"
	"github.com/foreman-pm/foreman/jobs"
)

type digestRows []jobs.DigestRecipient

func (r digestRows) UnreadDigest(context.Context) ([]jobs.DigestRecipient, error) {
	return r, nil
}

type flakyMail struct {
	sent   int
	failAt int
}

func (m *flakyMail) EnqueueSendEmail(context.Context, jobs.SendEmailPayload) (*asynq.TaskInfo, error) {
	m.sent++
	if m.failAt > 0 && m.sent == m.failAt {
		return nil, errors.New("redis timeout")
	}
	return &asynq.TaskInfo{}, nil
}

func TestUnreadDigestThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	rows := make(digestRows, 0, 500)
	for i := 0; i < 500; i++ {
		rows = append(rows, jobs.DigestRecipient{
			IdentityID: fmt.Sprintf("identity-%d", i),
			Email:      fmt.Sprintf("user%d@example.com", i),
			Unread:     i%7 + 1,
			Rooms:      i%3 + 1,
		})
	}
	task, err := jobs.NewUnreadDigestTask(1)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	for i := 0; i < 20; i++ {
		job := jobs.NewUnreadDigestJob(rows, &flakyMail{}, nil, metrics)
		if err := job.Handle(context.Background(), task); err != nil {
			t.Fatalf("digest run %d: %v", i, err)
		}
	}
	job := jobs.NewUnreadDigestJob(rows, &flakyMail{failAt: 10}, nil, metrics)
	if err := job.Handle(context.Background(), task); err == nil {
		t.Fatal("expected error to propagate")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "foreman_jobs_total", map[string]string{"job": jobs.TaskUnreadDigest, "status": "success"})
	failure := metricValue(t, families, "foreman_jobs_total", map[string]string{"job": jobs.TaskUnreadDigest, "status": "failure"})
	if success+failure == 0 {
		t.Fatal("no digest executions recorded")
	}
	ratio := success / (success + failure)
	if ratio < 0.9 {
		t.Fatalf("digest success ratio too low: %f", ratio)
	}

	emails := metricValue(t, families, "foreman_unread_digest_emails_total", nil)
	if emails != 20*500 {
		t.Fatalf("expected %d digest emails, got %f", 20*500, emails)
	}

	duration := histogramMean(t, families, "foreman_job_duration_seconds", map[string]string{"job": jobs.TaskUnreadDigest})
	if duration > 2.0 {
		t.Fatalf("digest duration above budget: %f", duration)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
