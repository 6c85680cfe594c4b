package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryStatus(t *testing.T) {
	u := &Updater{MaxRetries: 3}

	type scenario struct {
		name     string
		tryCount int
		expected string
	}

	scenarios := []scenario{
		{"first failure retries", 1, "pending"},
		{"below the budget retries", 2, "pending"},
		{"budget spent parks in error", 3, "error"},
		{"beyond the budget stays error", 4, "error"},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			assert.Equal(t, s.expected, u.retryStatus(s.tryCount))
		})
	}
}
