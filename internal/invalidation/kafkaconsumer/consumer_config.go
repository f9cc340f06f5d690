package kafkaconsumer

import (
	"strings"
	"time"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

func NewConfig(brokers, topic, groupID string) Config {
	return Config{
		Brokers:          splitBrokers(brokers),
		Topic:            topic,
		GroupID:          groupID,
		SessionTimeout:   10 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 60 * time.Second,
		DedupeSize:       4096,
	}
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
