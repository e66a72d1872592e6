package library

import (
	"context"

	"campusvault.org/internal/identity"
)

// Service defines catalog and review operations. Implementations must keep a
// resource's stored summary equal to Summarize of its live review set after
// every mutation, and must serialize the recompute-and-persist sequence per
// resource so concurrent review mutations cannot leave a stale summary behind.
type Service interface {
	CreateResource(ctx context.Context, draft ResourceDraft, owner identity.User) (Resource, error)
	GetResource(ctx context.Context, id string) (Resource, error)
	ListResources(ctx context.Context, filter Filter) ([]Resource, error)
	DeleteResource(ctx context.Context, id, requesterID string) error
	Share(ctx context.Context, resourceID, requesterID, email string) (Resource, error)
	Unshare(ctx context.Context, resourceID, requesterID, email string) (Resource, error)
	RecordDownload(ctx context.Context, id string) (Resource, error)
	Facets(ctx context.Context) (Facets, error)

	ListReviews(ctx context.Context, resourceID string) ([]Review, error)
	SubmitReview(ctx context.Context, resourceID string, author identity.User, rating int, comment string) (Review, error)
	EditReview(ctx context.Context, reviewID, requesterID string, rating int, comment string) (Review, error)
	DeleteReview(ctx context.Context, reviewID, requesterID string) (Review, Summary, error)
	Recompute(ctx context.Context, resourceID string) (Summary, error)
}
