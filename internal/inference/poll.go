package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/reelqueue/pkg/models"
)

// Route is the provider and model serving one job kind.
type Route struct {
	Provider models.InferenceProvider
	Model    string
}

// Routes maps every routed job kind to its provider.
type Routes map[models.Kind]Route

// PollUntilDone polls h at a fixed interval until the provider reports a terminal
// state or maxAttempts polls have been spent. Transient poll errors consume an
// attempt and polling continues; any other error is returned immediately.
func PollUntilDone(ctx context.Context, p models.InferenceProvider, h models.InferenceHandle, interval time.Duration, maxAttempts int) (models.PollResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := p.Poll(ctx, h)
		switch {
		case err == nil && res.State.Terminal():
			return res, nil
		case err != nil && !errors.Is(err, ErrProviderUnavailable):
			return models.PollResult{}, err
		case err != nil:
			lastErr = err
		}

		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return models.PollResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr != nil {
		return models.PollResult{}, fmt.Errorf("%w: provider did not finish after %d polls (last error: %v)", ErrPollTimeout, maxAttempts, lastErr)
	}
	return models.PollResult{}, fmt.Errorf("%w: provider did not finish after %d polls", ErrPollTimeout, maxAttempts)
}

// ResultError turns a terminal, unsuccessful poll result into the job error. The
// provider's own message is kept verbatim.
func ResultError(provider string, res models.PollResult) error {
	if res.State == models.InferenceSucceeded {
		return nil
	}
	if res.Error != "" {
		return errors.New(res.Error)
	}
	if res.State == models.InferenceCanceled {
		return fmt.Errorf("%s canceled the prediction", provider)
	}
	return fmt.Errorf("%s reported failure without a message", provider)
}
