package mqtt

import (
	"errors"
	"strings"
	"testing"
)

func TestStatusTopic(t *testing.T) {
	if got := StatusTopic("abc"); got != "courier/abc/status" {
		t.Errorf("StatusTopic() = %q", got)
	}
}

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		topic string
		valid bool
	}{
		{"a", true},
		{"a/b/c", true},
		{"/leading/slash", true},
		{"$SYS/uptime", true},
		{"", false},
		{"a/+", false},
		{"a/#", false},
		{"bad\x00null", false},
		{strings.Repeat("x", maxTopicLength+1), false},
	}

	for _, tt := range tests {
		err := ValidateTopic(tt.topic)
		if tt.valid && err != nil {
			t.Errorf("ValidateTopic(%.20q) error = %v", tt.topic, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateTopic(%.20q) error = %v, want ErrInvalidTopic", tt.topic, err)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter string
		valid  bool
	}{
		{"#", true},
		{"+", true},
		{"a/+/c", true},
		{"a/b/#", true},
		{"+/+/#", true},
		{"", false},
		{"a/#/c", false},
		{"a/b#", false},
		{"a+/b", false},
	}

	for _, tt := range tests {
		err := ValidateFilter(tt.filter)
		if tt.valid && err != nil {
			t.Errorf("ValidateFilter(%q) error = %v", tt.filter, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("ValidateFilter(%q) error = %v, want ErrInvalidTopic", tt.filter, err)
		}
	}
}

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/+/c", "a/b/c", true},
		{"a/#", "a", true},
		{"a/#", "a/b/c", true},
		{"#", "a/b", true},
		{"+/b", "a/b", true},
		{"+", "/a", false},
		{"a/b/c", "a/b", false},
		{"#", "$SYS/uptime", false},
		{"+/uptime", "$SYS/uptime", false},
		{"$SYS/#", "$SYS/uptime", true},
	}

	for _, tt := range tests {
		if got := TopicMatch(tt.filter, tt.topic); got != tt.want {
			t.Errorf("TopicMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
		}
	}
}
