package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lumehealth/lume-sync/internal/model"
	"github.com/lumehealth/lume-sync/internal/repository"
)

// ProfileFetcher is the remote side of reconciliation; nil result means the
// backend has no copy yet.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID int64) (*model.Profile, error)
}

// Reconciler merges the local and remote profile copies into one
// authoritative version on session start. The result replaces the local row.
type Reconciler struct {
	gw       ProfileFetcher
	profiles repository.ProfilesRepository
	log      *zap.Logger
}

func NewReconciler(gw ProfileFetcher, profiles repository.ProfilesRepository, log *zap.Logger) *Reconciler {
	return &Reconciler{gw: gw, profiles: profiles, log: log}
}

// Reconcile fetches both copies, merges, persists, and returns the
// authoritative profile. A remote fetch failure degrades to "remote absent";
// fallback covers the brand-new case where neither copy exists (the minimal
// profile from the preceding authentication call).
func (r *Reconciler) Reconcile(ctx context.Context, userID int64, fallback *model.Profile) (*model.Profile, error) {
	remote, err := r.gw.FetchProfile(ctx, userID)
	if err != nil {
		r.log.Warn("remote profile fetch failed, using local only",
			zap.Int64("user_id", userID), zap.Error(err))
		remote = nil
	}

	local, err := r.profiles.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load local profile: %w", err)
	}

	merged := Merge(local, remote)
	if merged == nil {
		if fallback == nil {
			return nil, nil
		}
		merged = fallback
	}
	merged.UserID = userID

	if err := r.profiles.Upsert(ctx, merged); err != nil {
		return nil, fmt.Errorf("persist reconciled profile: %w", err)
	}
	return merged, nil
}

// Merge resolves two provenance copies of the profile. The more recently
// updated record wins wholesale, with two exceptions:
//   - date of birth and biography are authored on-device and may have never
//     reached the backend, so they re-merge from whichever copy is non-null,
//     local taking precedence;
//   - the opaque remote id is server-managed and always comes from remote
//     when a remote copy exists.
func Merge(local, remote *model.Profile) *model.Profile {
	switch {
	case local == nil && remote == nil:
		return nil
	case remote == nil:
		out := *local
		return &out
	case local == nil:
		out := *remote
		return &out
	}

	var out model.Profile
	if remote.UpdatedAt.After(local.UpdatedAt) {
		out = *remote
	} else {
		out = *local
	}

	if local.DateOfBirth != nil {
		out.DateOfBirth = local.DateOfBirth
	} else {
		out.DateOfBirth = remote.DateOfBirth
	}
	if local.Biography != nil {
		out.Biography = local.Biography
	} else {
		out.Biography = remote.Biography
	}
	out.RemoteID = remote.RemoteID

	return &out
}
