package realtime

import "testing"

func TestIsNoise(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"e", true},
		{"...", true},
		{"?!", true},
		{"hmm", true},
		{"Hmm...", true},
		{"şey", true},
		{"Şey", true},
		{"eee", true},
		{"ııı", true},
		{"uh", true},
		{"um", true},
		{"Merhaba", false},
		{"Merhaba, nasılsın?", false},
		{"Evet", false},
		{"iyi", false},
		{"42", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := isNoise(tt.text, 2); got != tt.want {
				t.Fatalf("isNoise(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestEndsWithTerminal(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"Merhaba", false},
		{"Merhaba.", true},
		{"Nasılsın?", true},
		{"Harika!", true},
		{"Bilmiyorum…", true},
		{"Bir, iki,", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := endsWithTerminal(tt.text); got != tt.want {
				t.Fatalf("endsWithTerminal(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
