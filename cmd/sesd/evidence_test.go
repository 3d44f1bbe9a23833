package main

import (
	"testing"

	"github.com/fyrsmithlabs/sessiond/internal/evidence"
)

func TestStageMarks(t *testing.T) {
	tests := []struct {
		name  string
		chain evidence.Chain
		want  string
	}{
		{
			name:  "no stages",
			chain: evidence.Chain{},
			want:  "[ ][ ][ ]",
		},
		{
			name: "analysis only",
			chain: evidence.Chain{
				Status: evidence.ChainStatus{AnalysisLinked: true},
			},
			want: "[A][ ][ ]",
		},
		{
			name: "full chain",
			chain: evidence.Chain{
				Status: evidence.ChainStatus{
					AnalysisLinked:       true,
					ImplementationLinked: true,
					ValidationLinked:     true,
				},
			},
			want: "[A][I][V]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stageMarks(&tt.chain)
			if got != tt.want {
				t.Errorf("stageMarks = %q, want %q", got, tt.want)
			}
		})
	}
}
