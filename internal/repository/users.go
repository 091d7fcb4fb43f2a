package repository

import (
	"context"

	"workflowup/backend/pkg/models"
)

// Users answers identity lookups outside of a workflow command.
type Users struct {
	Store Store
}

// LookupUser returns the user with the given username or ErrNotFound.
func (u Users) LookupUser(ctx context.Context, username string) (models.User, error) {
	var out models.User
	err := u.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.GetUser(ctx, username)
		return err
	})
	return out, err
}
