package locks

import (
	"context"
	"testing"

	"github.com/fitglance/fitglance/internal/shopify"
	"github.com/stretchr/testify/assert"
)

func TestLockTTLOutlastsBillingCalls(t *testing.T) {
	// Overage settlement charges and then resets counters while holding the
	// lock; a read, a billing mutation, and a write can each take up to one
	// full request timeout before failing.
	assert.GreaterOrEqual(t, defaultTTL, 3*shopify.RequestTimeout)
}

func TestNilLockerRunsUnlocked(t *testing.T) {
	var l *Locker
	ran := false
	err := l.WithInstallationLock(context.Background(), "gid://shopify/AppInstallation/1", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)
}
