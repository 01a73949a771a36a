package alice

import (
	"errors"
)

var (
	errUnexpectedMessageType = errors.New("received unexpected message")
	errNilSwapState          = errors.New("swap state is nil")
	errNoEncryptedSignature  = errors.New("no encrypted signature learned yet")
	errSecretNotInWitness    = errors.New("could not recover counterparty secret from spend witness")
	errResumeWrongRole       = errors.New("persisted swap was not run as the monero holder")
)
