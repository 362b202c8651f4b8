package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mtlprog/reviewflow/internal/domain"
)

func TestRetryPolicy_CalculateDelayExponential(t *testing.T) {
	p := domain.RetryPolicy{
		MaxRetries:         10,
		InitialDelay:       100 * time.Millisecond,
		MaxDelay:           time.Second,
		BackoffMultiplier:  2,
		ExponentialBackoff: true,
	}

	assert.Equal(t, 100*time.Millisecond, p.CalculateDelay(0))
	assert.Equal(t, 200*time.Millisecond, p.CalculateDelay(1))
	assert.Equal(t, 800*time.Millisecond, p.CalculateDelay(3))
	assert.Equal(t, time.Second, p.CalculateDelay(4))
	assert.Equal(t, time.Second, p.CalculateDelay(5000))

	prev := time.Duration(0)
	for i := 0; i < 64; i++ {
		d := p.CalculateDelay(i)
		assert.GreaterOrEqual(t, d, prev, "retry %d", i)
		assert.LessOrEqual(t, d, p.MaxDelay, "retry %d", i)
		prev = d
	}
}

func TestRetryPolicy_CalculateDelayConstant(t *testing.T) {
	p := domain.RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      250 * time.Millisecond,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 3,
	}

	for i := 0; i < 10; i++ {
		assert.Equal(t, 250*time.Millisecond, p.CalculateDelay(i))
	}
}

func TestRetryPolicy_CalculateDelayIsPure(t *testing.T) {
	p := domain.DefaultRetryPolicy()
	before := p
	_ = p.CalculateDelay(3)
	_ = p.CanRetry(1)
	assert.Equal(t, before, p)
}

func TestRetryPolicy_CanRetry(t *testing.T) {
	p := domain.DefaultRetryPolicy()
	assert.True(t, p.CanRetry(0))
	assert.True(t, p.CanRetry(2))
	assert.False(t, p.CanRetry(3))
	assert.False(t, p.CanRetry(4))

	p.MaxRetries = 0
	assert.False(t, p.CanRetry(0))
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.RetryPolicy)
		wantErr bool
	}{
		{"default", func(*domain.RetryPolicy) {}, false},
		{"zero retries", func(p *domain.RetryPolicy) { p.MaxRetries = 0 }, false},
		{"negative retries", func(p *domain.RetryPolicy) { p.MaxRetries = -1 }, true},
		{"max below initial", func(p *domain.RetryPolicy) { p.MaxDelay = p.InitialDelay - 1 }, true},
		{"zero multiplier", func(p *domain.RetryPolicy) { p.BackoffMultiplier = 0 }, true},
		{"negative initial", func(p *domain.RetryPolicy) { p.InitialDelay = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domain.DefaultRetryPolicy()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidRetryPolicy)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
