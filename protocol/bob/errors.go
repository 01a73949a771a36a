package bob

import (
	"errors"
)

var (
	errUnexpectedMessageType = errors.New("received unexpected message")
	errNilSwapState          = errors.New("swap state is nil")
	errNoEncSignature        = errors.New("encrypted signature was never created")
	errSecretNotInWitness    = errors.New("could not recover counterparty secret from spend witness")
	errEncSigWrongKey        = errors.New("adaptor signature is not encrypted to our key")
	errInvalidTimelocks      = errors.New("counterparty proposed zero timelocks")
	errResumeWrongRole       = errors.New("persisted swap was not run as the bitcoin holder")
)
