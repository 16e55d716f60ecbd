package client

import "testing"

func TestCleanCaption(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"A dog is running through the grass.", "a dog is running through the grass"},
		{"```\ncaption: Dog on beach\n```", "dog on beach"},
		{`"Two kids playing soccer!"`, "two kids playing soccer"},
		{"\n\n  man   riding a bike\nSecond line", "man riding a bike"},
		{"Description: **a cat asleep**", "a cat asleep"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanCaption(tt.in); got != tt.want {
			t.Errorf("CleanCaption(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
