package service

import "errors"

var (
	errInvalidAuthMaterial = errors.New("exactly one auth_type's secret material must be populated")
	errUnknownAuthType     = errors.New("unknown auth_type")
)
