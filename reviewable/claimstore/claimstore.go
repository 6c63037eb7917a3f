// Package claimstore implements reviewable.ClaimStore over process memory,
// redis, or a SQL table.
package claimstore

import (
	"errors"
	"fmt"

	"github.com/discourse/discourse-sub052/reviewable"
)

func notHolder(id int64, holder string) error {
	return fmt.Errorf("%w: %s does not hold the claim on reviewable %d", reviewable.ErrPermissionDenied, holder, id)
}

var errChurn = errors.New("claim churned while acquiring, giving up")
