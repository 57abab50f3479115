package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TopicPrefix is the base for topics owned by Courier itself.
const TopicPrefix = "courier"

// maxTopicLength is the MQTT limit on encoded topic length.
const maxTopicLength = 65535

// StatusTopic returns the retained status topic for a client.
//
// Example: courier/courier-3f2a.../status
func StatusTopic(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, clientID)
}

// ValidateTopic checks a topic name used for publishing.
// Wildcards are not allowed.
func ValidateTopic(topic string) error {
	if err := validateCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateFilter checks a subscription filter.
//
// "+" must occupy a whole level, and "#" must occupy the last level.
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validateCommon(s string) error {
	if s == "" {
		return ErrInvalidTopic
	}
	if len(s) > maxTopicLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidTopic, len(s), maxTopicLength)
	}
	if !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidTopic)
	}
	return nil
}

// TopicMatch reports whether topic matches filter.
//
// Topics beginning with "$" are only matched by filters that also begin
// with "$", so "#" does not match "$SYS/broker/uptime".
func TopicMatch(filter, topic string) bool {
	if strings.HasPrefix(topic, "$") && !strings.HasPrefix(filter, "$") {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
