package bitcoin

import (
	"errors"
)

var (
	// ErrUnsatisfied is returned by a template's Complete when one of the
	// given signatures does not verify against the template's digest.
	ErrUnsatisfied = errors.New("signatures do not satisfy the transaction template")

	errLockOutputNotFound   = errors.New("lock transaction pays no output to the shared script")
	errLockOutputWrongValue = errors.New("lock transaction output has unexpected value")
	errNoSignaturesInSpend  = errors.New("spending transaction carries no signatures")
	errSignLockIncomplete   = errors.New("wallet could not fully sign the lock transaction")
)
