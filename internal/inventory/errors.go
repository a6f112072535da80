package inventory

import (
	"fmt"

	"github.com/fabricwright/conductor/internal/errs"
)

func errNotFound(kind, name string) error {
	return errs.NewValidation(name, fmt.Sprintf("%s not found", kind))
}

func errUnreachable(replica string) error {
	name := replica
	if name == "" {
		name = "primary"
	}
	return errs.NewTransient("inventory."+name, fmt.Errorf("replica unreachable"))
}

func errNotOwned(key string) error {
	return fmt.Errorf("inventory: refusing to write non-owned custom field %q", key)
}
