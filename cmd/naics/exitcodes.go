package main

import (
	"context"
	"errors"
	"net/url"

	"github.com/census-naics/internal/census"
	"github.com/census-naics/internal/config"
	"github.com/census-naics/internal/db"
	"github.com/census-naics/internal/etl"
	"github.com/census-naics/internal/export"
	"github.com/census-naics/internal/naics"
	"github.com/census-naics/internal/store"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK          = 0
	exitMismatch    = 1
	exitUsage       = 2
	exitStore       = 3
	exitRemote      = 4
	exitInterrupted = 130
)

var errValidationFailed = errors.New("validation failed")

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// classify attaches an exit code to an error coming out of a pipeline stage.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return err
	}

	var (
		se *store.Error
		ue *url.Error
	)
	switch {
	case errors.Is(err, etl.ErrInterrupted),
		errors.Is(err, export.ErrInterrupted),
		errors.Is(err, context.Canceled):
		return withCode(exitInterrupted, err)
	case errors.Is(err, config.ErrInvalidYear),
		errors.Is(err, config.ErrMissingAPIKey),
		errors.Is(err, naics.ErrMalformedCatalog),
		errors.Is(err, store.ErrInvalidZip),
		errors.Is(err, db.ErrMissingDSN):
		return withCode(exitUsage, err)
	case errors.As(err, &se):
		return withCode(exitStore, err)
	case errors.Is(err, census.ErrNoData),
		errors.Is(err, census.ErrRateLimited),
		errors.Is(err, etl.ErrNoGeographies),
		errors.As(err, &ue):
		return withCode(exitRemote, err)
	}
	return err
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}
