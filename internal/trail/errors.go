package trail

import (
	"errors"
	"fmt"
)

var (
	ErrChainNotFound     = errors.New("audit chain not found")
	ErrChainExists       = errors.New("audit chain already exists")
	ErrEventNotFound     = errors.New("audit event not found")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrInvalidInput      = errors.New("invalid audit input")
)

type ChainNotFoundError struct {
	ChainID string
}

func (e *ChainNotFoundError) Error() string {
	return fmt.Sprintf("audit chain %q not found", e.ChainID)
}

func (e *ChainNotFoundError) Is(target error) bool {
	return target == ErrChainNotFound
}

type ChainExistsError struct {
	ChainID string
}

func (e *ChainExistsError) Error() string {
	return fmt.Sprintf("audit chain %q already exists", e.ChainID)
}

func (e *ChainExistsError) Is(target error) bool {
	return target == ErrChainExists
}

type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("audit event %q not found", e.EventID)
}

func (e *EventNotFoundError) Is(target error) bool {
	return target == ErrEventNotFound
}

type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported export format %q", e.Format)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}
