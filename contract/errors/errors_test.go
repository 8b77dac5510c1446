package errors_test

import (
	"errors"
	"fmt"
	"testing"

	berr "github.com/next-trace/scg-event-bus/contract/errors"
)

func TestCodeAndVars(t *testing.T) {
	e := berr.Code(berr.ErrCodePublishFailed)
	if e.Error() != berr.ErrCodePublishFailed {
		t.Fatalf("unexpected error string: %s", e.Error())
	}

	// exported variables must carry their codes
	tests := []struct {
		err  error
		code string
	}{
		{berr.ErrHandlerExists, berr.ErrCodeHandlerExists},
		{berr.ErrHandlerNotFound, berr.ErrCodeHandlerNotFound},
		{berr.ErrPublishFailed, berr.ErrCodePublishFailed},
		{berr.ErrSerializationFailed, berr.ErrCodeSerializationFailed},
		{berr.ErrTransportNotConfigured, berr.ErrCodeTransportNotConfigured},
		{berr.ErrTransportClosed, berr.ErrCodeTransportClosed},
		{berr.ErrInvalidTopic, berr.ErrCodeInvalidTopic},
		{berr.ErrTopicExists, berr.ErrCodeTopicExists},
		{berr.ErrUnknownTopic, berr.ErrCodeUnknownTopic},
		{berr.ErrUnknownEventKind, berr.ErrCodeUnknownEventKind},
		{berr.ErrHandlerFailed, berr.ErrCodeHandlerFailed},
		{berr.ErrHandlerPanicked, berr.ErrCodeHandlerPanicked},
		{berr.ErrDispatchFailed, berr.ErrCodeDispatchFailed},
		{berr.ErrIgnored, berr.ErrCodeIgnored},
		{berr.ErrTransient, berr.ErrCodeTransient},
		{berr.ErrAlreadyApplied, berr.ErrCodeAlreadyApplied},
		{berr.ErrNoTopics, berr.ErrCodeNoTopics},
	}

	for _, tc := range tests {
		if !errors.Is(tc.err, berr.Code(tc.code)) {
			t.Fatalf("expected %s to be %s", tc.err, tc.code)
		}
	}
}

func TestCodesSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("publish user:user_registered: %w", errors.Join(berr.ErrPublishFailed, errors.New("boom")))
	if !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("wrapped error lost its code: %v", err)
	}

	if errors.Is(err, berr.ErrTransient) {
		t.Fatalf("wrapped error matched unrelated code: %v", err)
	}
}
