package protocol

import (
	"errors"
	"testing"
)

func TestNormalizeDeviceID(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"7", "007", false},
		{"007", "007", false},
		{" 12 ", "012", false},
		{"999", "999", false},
		{"0", "", true},
		{"1000", "", true},
		{"-3", "", true},
		{"abc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeDeviceID(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDeviceID) {
					t.Errorf("NormalizeDeviceID(%q) error = %v, want ErrInvalidDeviceID", tt.input, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("NormalizeDeviceID(%q) = %q, %v; want %q", tt.input, got, err, tt.want)
			}
		})
	}
}

func TestDeviceNumber(t *testing.T) {
	n, err := DeviceNumber("042")
	if err != nil || n != 42 {
		t.Errorf("DeviceNumber(042) = %d, %v; want 42", n, err)
	}
	if _, err := DeviceNumber("x"); err == nil {
		t.Error("DeviceNumber(x) error = nil")
	}
}

func TestStateTopic(t *testing.T) {
	if got := StateTopic("007"); got != "a/c/s/7" {
		t.Errorf("StateTopic(007) = %q, want a/c/s/7", got)
	}
	id, ok := stateTopicID(StateTopic("123"))
	if !ok || id != "123" {
		t.Errorf("stateTopicID round trip = %q, %v", id, ok)
	}
}

func TestSubscriptions(t *testing.T) {
	subs := Subscriptions()
	if len(subs) != 10 {
		t.Fatalf("len(Subscriptions()) = %d, want 10", len(subs))
	}
	want := map[string]bool{TopicCompactStatus: false, TopicCompactResponse: false}
	for _, topic := range subs {
		if topic == TopicCompactCommand || topic == TopicLegacyCommand || topic == TopicConfigSubmit {
			t.Errorf("outbound topic %q in subscriptions", topic)
		}
		if !IsFeederTopic(topic) {
			t.Errorf("IsFeederTopic(%q) = false", topic)
		}
		if _, ok := want[topic]; ok {
			want[topic] = true
		}
	}
	for topic, seen := range want {
		if !seen {
			t.Errorf("%q not subscribed", topic)
		}
	}
}

func TestIsFeederTopic(t *testing.T) {
	tests := map[string]bool{
		"a/r/c":                      true,
		"alimentador/remota/comando": true,
		"home/lights":                false,
		"alimentadorX":               false,
		"":                           false,
	}
	for topic, want := range tests {
		if got := IsFeederTopic(topic); got != want {
			t.Errorf("IsFeederTopic(%q) = %v, want %v", topic, got, want)
		}
	}
}
