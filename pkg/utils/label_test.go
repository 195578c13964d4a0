package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeLabel(t *testing.T) {
	tests := []struct {
		name     string
		existing Label
		incoming Label
		want     Label
	}{
		{
			name:     "empty existing",
			incoming: Label{Value: "item", Source: "recall"},
			want:     Label{Value: "item", Source: "recall"},
		},
		{
			name:     "empty incoming",
			existing: Label{Value: "item", Source: "recall"},
			want:     Label{Value: "item", Source: "recall"},
		},
		{
			name:     "accumulate",
			existing: Label{Value: "item", Source: "recall"},
			incoming: Label{Value: "user", Source: "rule"},
			want:     Label{Value: "item|user", Source: "recall,rule"},
		},
		{
			name:     "same source",
			existing: Label{Value: "item", Source: "recall"},
			incoming: Label{Value: "user", Source: "recall"},
			want:     Label{Value: "item|user", Source: "recall"},
		},
		{
			name:     "repeated value",
			existing: Label{Value: "item|user", Source: "recall"},
			incoming: Label{Value: "user", Source: "recall"},
			want:     Label{Value: "item|user", Source: "recall"},
		},
		{
			name:     "prefix is not a match",
			existing: Label{Value: "items", Source: "recall"},
			incoming: Label{Value: "item", Source: "recall"},
			want:     Label{Value: "items|item", Source: "recall"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeLabel(tt.existing, tt.incoming))
		})
	}
}
