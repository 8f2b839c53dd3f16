package service

import (
	"context"
	"errors"
	"time"

	"bananaclash/internal/models"
)

// retryTransient runs fn up to attempts times while it fails with
// ErrTransient, backing off linearly between attempts
func retryTransient(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !errors.Is(err, models.ErrTransient) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return err
}
