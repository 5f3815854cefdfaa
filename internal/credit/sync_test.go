package credit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		backend  int64
		frontend int64
		force    bool
		want     Decision
	}{
		{
			name:     "in sync",
			backend:  500,
			frontend: 500,
			want:     Decision{},
		},
		{
			name:     "in sync forced",
			backend:  500,
			frontend: 500,
			force:    true,
			want:     Decision{SyncRequired: true},
		},
		{
			name:     "backend ahead",
			backend:  1300,
			frontend: 1200,
			want:     Decision{SyncRequired: true, CreditsDiff: 100, Direction: DirectionAdd, DriftDetected: true},
		},
		{
			name:     "backend behind",
			backend:  95,
			frontend: 100,
			want:     Decision{SyncRequired: true, CreditsDiff: -5, Direction: DirectionDeduct},
		},
		{
			name:     "drift at threshold is not flagged",
			backend:  110,
			frontend: 100,
			want:     Decision{SyncRequired: true, CreditsDiff: 10, Direction: DirectionAdd},
		},
		{
			name:     "drift above threshold",
			backend:  89,
			frontend: 100,
			want:     Decision{SyncRequired: true, CreditsDiff: -11, Direction: DirectionDeduct, DriftDetected: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.backend, tt.frontend, tt.force))
		})
	}
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "add", DirectionAdd.String())
	assert.Equal(t, "deduct", DirectionDeduct.String())
	assert.Equal(t, "none", DirectionNone.String())
}
