package domain

import "errors"

var (
	// The update is ahead of the book; it has to wait in the pending buffer for its predecessors.
	ErrOrderBookUpdateIsOutOfSequece = errors.New("order book update is out of sequence")
	// The update is already reflected in the book and is skipped.
	ErrOrderBookUpdateIsOutdated = errors.New("order book update is outdated")
)

type IDepthUpdateValidator interface {
	// if return nil, the update is the next one and can be applied
	IsValidUpd(update *UpdateMessage, orderBookLastUpdId int64) error
	IsErrOutOfSequece(err error) bool
	IsErrOutdated(err error) bool
}

// DepthUpdateValidator is the sequence gate shared by every provider:
// seq == cur+1 applies, seq > cur+1 waits, seq <= cur is stale.
type DepthUpdateValidator struct{}

func NewDepthUpdateValidator() *DepthUpdateValidator {
	return &DepthUpdateValidator{}
}

func (v *DepthUpdateValidator) IsValidUpd(update *UpdateMessage, orderBookLastUpdId int64) error {
	switch {
	case update.Seq <= orderBookLastUpdId:
		return ErrOrderBookUpdateIsOutdated
	case update.Seq > orderBookLastUpdId+1:
		return ErrOrderBookUpdateIsOutOfSequece
	}
	return nil
}

func (v *DepthUpdateValidator) IsErrOutOfSequece(err error) bool {
	return errors.Is(err, ErrOrderBookUpdateIsOutOfSequece)
}

func (v *DepthUpdateValidator) IsErrOutdated(err error) bool {
	return errors.Is(err, ErrOrderBookUpdateIsOutdated)
}
