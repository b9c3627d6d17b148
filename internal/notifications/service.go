package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"imgbatch/internal/config"
	"imgbatch/internal/jobstore"
)

const userAgent = "imgbatch/1.0"

// Service defines the notification surface used by the job orchestrator.
type Service interface {
	NotifyJobCompleted(ctx context.Context, jobID string, status jobstore.Status) error
	Close() error
}

// Event is the document delivered for a finished job.
type Event struct {
	JobID  string          `json:"jobId"`
	Status jobstore.Status `json:"status"`
}

// NewService builds a service for every transport configured in cfg. When
// none are configured a noop implementation is returned.
func NewService(cfg *config.Config) (Service, error) {
	if cfg == nil {
		return noopService{}, nil
	}

	var services []Service
	if endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL); endpoint != "" {
		services = append(services, NewWebhookService(endpoint, cfg.Notifications.SigningSecret, cfg.NotifyTimeout()))
	}
	if len(cfg.Notifications.KafkaBrokers) > 0 {
		kafka, err := DialKafka(cfg.Notifications.KafkaBrokers, cfg.Notifications.KafkaTopic)
		if err != nil {
			return nil, err
		}
		services = append(services, kafka)
	}

	switch len(services) {
	case 0:
		return noopService{}, nil
	case 1:
		return services[0], nil
	default:
		return multiService(services), nil
	}
}

// Multi delivers to every service and joins their errors.
func Multi(services ...Service) Service {
	return multiService(services)
}

type multiService []Service

func (m multiService) NotifyJobCompleted(ctx context.Context, jobID string, status jobstore.Status) error {
	var errs []error
	for _, svc := range m {
		if err := svc.NotifyJobCompleted(ctx, jobID, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiService) Close() error {
	var errs []error
	for _, svc := range m {
		if err := svc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	return errors.Join(errs...)
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, jobstore.Status) error { return nil }
func (noopService) Close() error                                                      { return nil }
