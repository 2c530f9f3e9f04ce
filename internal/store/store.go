// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/classroom-labs/internal/domain"
)

// ListOptions filters [Repository.ListDiscussions].
type ListOptions struct {
	// Limit caps the number of results. Zero means DefaultListLimit.
	Limit int
	// ClientID restricts results to one browser identity when non-empty.
	ClientID string
}

// DefaultListLimit is used when ListOptions.Limit is zero.
const DefaultListLimit = 50

// Repository defines the interface for archiving discussion transcripts.
type Repository interface {
	// CreateDiscussion records a newly started discussion.
	CreateDiscussion(ctx context.Context, t *domain.Transcript) error

	// AppendUtterance appends one utterance to a discussion's transcript.
	AppendUtterance(ctx context.Context, discussionID string, u domain.Utterance) error

	// FinishDiscussion stamps the outcome and end time of a discussion.
	FinishDiscussion(ctx context.Context, discussionID string, outcome domain.Outcome, rounds int, endedAt time.Time) error

	// GetDiscussion retrieves a transcript with its utterances.
	// It returns nil, nil when the discussion does not exist.
	GetDiscussion(ctx context.Context, discussionID string) (*domain.Transcript, error)

	// ListDiscussions returns transcripts without utterances, newest first.
	ListDiscussions(ctx context.Context, opts ListOptions) ([]*domain.Transcript, error)

	// DeleteDiscussionsBefore removes discussions started before cutoff,
	// utterances included.
	DeleteDiscussionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// AbandonActive marks discussions still active (left over from a crash)
	// as failed.
	AbandonActive(ctx context.Context, endedAt time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
