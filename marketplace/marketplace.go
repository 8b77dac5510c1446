// Package marketplace declares the event vocabularies of the marketplace bounded
// contexts. Each context emits a closed set of kinds for its aggregate.
package marketplace

import (
	"github.com/next-trace/scg-event-bus/event"
	"github.com/next-trace/scg-event-bus/topic"
)

// Bounded contexts.
const (
	Identity       = "identity"
	Family         = "family"
	Provider       = "provider"
	ProgramCatalog = "program_catalog"
	Enrollment     = "enrollment"
	Messaging      = "messaging"
	Participation  = "participation"
)

// Identity kinds.
const (
	UserRegistered event.Kind = "user_registered"
	UserConfirmed  event.Kind = "user_confirmed"
	UserDeleted    event.Kind = "user_deleted"
)

// Family kinds.
const (
	FamilyCreated event.Kind = "family_created"
	ChildAdded    event.Kind = "child_added"
	ChildRemoved  event.Kind = "child_removed"
)

// Provider kinds.
const (
	ProviderRegistered event.Kind = "provider_registered"
	ProviderVerified   event.Kind = "provider_verified"
	ProviderSuspended  event.Kind = "provider_suspended"
)

// Program catalog kinds.
const (
	ProgramCreated   event.Kind = "program_created"
	ProgramPublished event.Kind = "program_published"
	ProgramArchived  event.Kind = "program_archived"
)

// Enrollment kinds.
const (
	EnrollmentRequested event.Kind = "enrollment_requested"
	EnrollmentConfirmed event.Kind = "enrollment_confirmed"
	EnrollmentCancelled event.Kind = "enrollment_cancelled"
)

// Messaging kinds.
const (
	ConversationStarted event.Kind = "conversation_started"
	MessageSent         event.Kind = "message_sent"
)

// Participation kinds.
const (
	SessionAttended event.Kind = "session_attended"
	SessionMissed   event.Kind = "session_missed"
)

var (
	Users = event.MustVocabulary(Identity, "user",
		UserRegistered, UserConfirmed, UserDeleted)
	Families = event.MustVocabulary(Family, "family",
		FamilyCreated, ChildAdded, ChildRemoved)
	Providers = event.MustVocabulary(Provider, "provider",
		ProviderRegistered, ProviderVerified, ProviderSuspended)
	Programs = event.MustVocabulary(ProgramCatalog, "program",
		ProgramCreated, ProgramPublished, ProgramArchived)
	Enrollments = event.MustVocabulary(Enrollment, "enrollment",
		EnrollmentRequested, EnrollmentConfirmed, EnrollmentCancelled)
	Conversations = event.MustVocabulary(Messaging, "conversation",
		ConversationStarted, MessageSent)
	Participations = event.MustVocabulary(Participation, "participation",
		SessionAttended, SessionMissed)
)

// All returns every marketplace vocabulary.
func All() []*event.Vocabulary {
	return []*event.Vocabulary{Users, Families, Providers, Programs, Enrollments, Conversations, Participations}
}

// Declare registers every marketplace topic in c.
func Declare(c *topic.Catalog) error {
	for _, v := range All() {
		if err := v.Declare(c); err != nil {
			return err
		}
	}

	return nil
}

// Catalog returns a new catalog holding every marketplace topic.
func Catalog() *topic.Catalog {
	c := topic.NewCatalog()
	if err := Declare(c); err != nil {
		panic(err)
	}

	return c
}
