package app

import "errors"

var (
	// ErrJournalDisabled indicates no journal driver is configured.
	ErrJournalDisabled = errors.New("search journal is disabled")
)
