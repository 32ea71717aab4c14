package memory

import (
	"reflect"
	"testing"
)

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "drops stop words and short tokens",
			text: "The cat is a good hunter",
			want: []string{"cat", "good", "hunter"},
		},
		{
			name: "lowercases tokens",
			text: "Machine Learning with Python",
			want: []string{"machine", "learning", "with", "python"},
		},
		{
			name: "caps at five keywords",
			text: "alpha beta gamma delta epsilon zeta eta",
			want: []string{"alpha", "beta", "gamma", "delta", "epsilon"},
		},
		{
			name: "mixed language input",
			text: "我在学习 Python 编程",
			want: []string{"我在学习", "python", "编程"},
		},
		{
			name: "empty input",
			text: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractKeywords(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("extractKeywords(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
