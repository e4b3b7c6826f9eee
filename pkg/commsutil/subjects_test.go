package commsutil

import "testing"

const subjectsTestPrefix = "commsutil:subjects_test"

func TestBuildSubjects(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"service", BuildServiceSubject("watchers", "game"), "watchers.game"},
		{"peer", BuildPeerSubject("watchers", "game", 3), "watchers.game.3"},
		{"dotted service", BuildPeerSubject("ops.watchers", "game.eu", 12), "ops.watchers.game_eu.12"},
		{"change", BuildChangeSubject("game"), "watchers.changed.game"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s - got %q, want %q", subjectsTestPrefix, tt.got, tt.want)
			}
		})
	}
}

func TestToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"a.b", "a_b"},
		{"wild*card>", "wild_card_"},
		{"  ", "_"},
	}
	for _, tt := range tests {
		if got := Token(tt.in); got != tt.want {
			t.Errorf("%s - Token(%q) = %q, want %q", subjectsTestPrefix, tt.in, got, tt.want)
		}
	}
}
