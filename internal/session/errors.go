package session

import "errors"

var (
	errFirstMessageMustRegister = errors.New("session: first message must be register")
	errInvalidCredential        = errors.New("session: invalid or unknown credential")
)
