package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/Autopsias/raglite/internal/infrastructure/resilience"
)

var transientNATSErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
	nats.ErrSlowConsumer,
}

func classifyNATSError(err error) resilience.ErrorClassification {
	return resilience.ClassifyTransport(err, func(err error) resilience.ErrorClassification {
		for _, target := range transientNATSErrors {
			if errors.Is(err, target) {
				return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
			}
		}
		return resilience.ErrorClassification{RecordFailure: true}
	})
}

func wrapTemporaryIfNeeded(err error) error {
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}
