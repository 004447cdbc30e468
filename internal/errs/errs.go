package errs

import "errors"

var (
	ErrTicketNotFound       = errors.New("ticket not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrEmptyMessage         = errors.New("message content is empty")
	ErrTicketClosed         = errors.New("ticket is closed")
)
