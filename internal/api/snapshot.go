package api

import (
	"context"
	"fmt"

	"github.com/pearl-rdm/pearl/internal/events"
	"github.com/pearl-rdm/pearl/internal/repositories"
	"github.com/pearl-rdm/pearl/internal/websocket"
)

// SnapshotSource assembles the full-collection baseline a client receives
// right after connecting, one message per tracked entity type. The baseline
// replaces polling: whatever events the client missed while disconnected are
// subsumed by the fresh collections.
type SnapshotSource struct {
	studies  repositories.StudyRepository
	packages repositories.PackageRepository
	items    repositories.PackageItemRepository
	trackers repositories.TrackerRepository
	users    repositories.UserRepository
	texts    repositories.TextElementRepository
	comments repositories.CommentRepository
}

// NewSnapshotSource wires a SnapshotSource over the given repositories.
func NewSnapshotSource(
	studies repositories.StudyRepository,
	packages repositories.PackageRepository,
	items repositories.PackageItemRepository,
	trackers repositories.TrackerRepository,
	users repositories.UserRepository,
	texts repositories.TextElementRepository,
	comments repositories.CommentRepository,
) *SnapshotSource {
	return &SnapshotSource{
		studies:  studies,
		packages: packages,
		items:    items,
		trackers: trackers,
		users:    users,
		texts:    texts,
		comments: comments,
	}
}

// Collect loads every tracked collection and returns the snapshot messages in
// stable order. A failure on any collection aborts the whole snapshot — a
// partial baseline would leave the client silently missing data.
func (s *SnapshotSource) Collect(ctx context.Context) ([]websocket.Message, error) {
	msgs := make([]websocket.Message, 0, len(events.AllEntityTypes))

	for _, t := range events.AllEntityTypes {
		collection, err := s.collection(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("api: snapshot %s: %w", t.Plural(), err)
		}
		msgs = append(msgs, websocket.SnapshotMessage(t, collection))
	}
	return msgs, nil
}

func (s *SnapshotSource) collection(ctx context.Context, t events.EntityType) (any, error) {
	switch t {
	case events.EntityStudy:
		return s.studies.ListAll(ctx)
	case events.EntityPackage:
		return s.packages.ListAll(ctx)
	case events.EntityPackageItem:
		return s.items.ListAll(ctx)
	case events.EntityReportingEffortTracker:
		return s.trackers.ListAll(ctx)
	case events.EntityUser:
		users, err := s.users.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		// Users go over the wire in their public shape, never as raw models.
		out := make([]userResponse, 0, len(users))
		for i := range users {
			out = append(out, toUserResponse(&users[i]))
		}
		return out, nil
	case events.EntityTextElement:
		return s.texts.ListAll(ctx)
	case events.EntityComment:
		return s.comments.ListAll(ctx)
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
}
