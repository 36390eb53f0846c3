package kafka

import (
	"context"
	"errors"
	"io"

	"github.com/poiesic/docflow/core"
	kafkago "github.com/segmentio/kafka-go"
)

// classify maps kafka-go failures onto the core error classes.
// Authorization failures and oversized messages are fatal; everything
// else is treated as a broker blip and retried by the caller.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var writeErrs kafkago.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil {
				return classify(e)
			}
		}
	}

	var kerr kafkago.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafkago.TopicAuthorizationFailed,
			kafkago.GroupAuthorizationFailed,
			kafkago.ClusterAuthorizationFailed,
			kafkago.SASLAuthenticationFailed,
			kafkago.MessageSizeTooLarge,
			kafkago.InvalidTopic:
			return core.Fatal(err)
		}
		return core.Transient(err)
	}

	if errors.Is(err, io.ErrClosedPipe) {
		return core.Fatal(err)
	}
	return core.Transient(err)
}
