package repositories

import "errors"

// ErrNotFound is returned by repository methods when the requested record
// does not exist. Callers check for it with errors.Is to distinguish a
// missing job from a database failure:
//
//	cfg, err := repo.GetByName(ctx, name)
//	if errors.Is(err, repositories.ErrNotFound) {
//	    handle unknown job
//	}
var ErrNotFound = errors.New("record not found")
