package usecase

import "testing"

func TestEstimateFusionQuality(t *testing.T) {
	tests := []struct {
		name      string
		lexical   []string
		vector    []string
		finalHits int
		want      float64
	}{
		{name: "no hits", lexical: []string{"a"}, vector: []string{"a"}, finalHits: 0, want: 0},
		{name: "empty union", finalHits: 3, want: 0},
		{name: "vector empty", lexical: []string{"a", "b", "c", "d", "e"}, finalHits: 5, want: 0},
		{name: "identical sets clamp", lexical: []string{"a", "b"}, vector: []string{"b", "a"}, finalHits: 2, want: 1},
		{name: "partial overlap", lexical: []string{"a", "b", "c"}, vector: []string{"c", "d"}, finalHits: 4, want: 0.5},
		{name: "disjoint", lexical: []string{"a"}, vector: []string{"b"}, finalHits: 2, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateFusionQuality(tt.lexical, tt.vector, tt.finalHits)
			if got != tt.want {
				t.Fatalf("expected %f, got %f", tt.want, got)
			}
		})
	}
}
