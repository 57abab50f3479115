package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/courier-core/internal/infrastructure/config"
	"github.com/nerrad567/courier-core/internal/infrastructure/logging"
	"github.com/nerrad567/courier-core/internal/infrastructure/mqtt"
)

// subscriber is the part of *mqtt.Client the reloader drives.
type subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// reconcileSubscriptions brings the live subscriptions from old to next.
// Topics whose QoS changed are subscribed again. It returns the set that
// is actually in effect, so a failed change is retried on the next reload.
func reconcileSubscriptions(client subscriber, old, next []config.SubscriptionConfig, handler mqtt.MessageHandler) ([]config.SubscriptionConfig, error) {
	current := make(map[string]int, len(old))
	for _, s := range old {
		current[s.Topic] = s.QoS
	}
	wanted := make(map[string]int, len(next))
	for _, s := range next {
		wanted[s.Topic] = s.QoS
	}

	var firstErr error
	for _, s := range old {
		if _, ok := wanted[s.Topic]; ok {
			continue
		}
		if err := client.Unsubscribe(s.Topic); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("unsubscribing from %q: %w", s.Topic, err)
			}
			continue
		}
		delete(current, s.Topic)
	}
	for _, s := range next {
		if qos, ok := current[s.Topic]; ok && qos == s.QoS {
			continue
		}
		if err := client.Subscribe(s.Topic, byte(s.QoS), handler); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("subscribing to %q: %w", s.Topic, err)
			}
			continue
		}
		current[s.Topic] = s.QoS
	}

	applied := make([]config.SubscriptionConfig, 0, len(current))
	for _, s := range next {
		if qos, ok := current[s.Topic]; ok {
			applied = append(applied, config.SubscriptionConfig{Topic: s.Topic, QoS: qos})
			delete(current, s.Topic)
		}
	}
	for _, s := range old {
		if qos, ok := current[s.Topic]; ok {
			applied = append(applied, config.SubscriptionConfig{Topic: s.Topic, QoS: qos})
		}
	}
	return applied, firstErr
}

// watchSubscriptions reloads configPath when it changes and applies any
// change to the subscriptions list. Other settings need a restart.
func watchSubscriptions(ctx context.Context, configPath string, initial []config.SubscriptionConfig,
	client subscriber, log *logging.Logger) (*config.Watcher, error) {
	applied := initial

	w := config.NewWatcher(configPath, 0, func(cfg *config.Config, err error) {
		if err != nil {
			log.Warn("config reload failed, keeping current subscriptions", "error", err)
			return
		}
		applied, err = reconcileSubscriptions(client, applied, cfg.Subscriptions, logMessage(log))
		if err != nil {
			log.Error("applying reloaded subscriptions", "error", err)
			return
		}
		log.Info("subscriptions reloaded", "count", len(applied))
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
