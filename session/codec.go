package session

import (
	"errors"
	"fmt"
)

// Codec turns sessions into sealed blobs and back.
type Codec struct {
	sealer *Sealer
}

// NewCodec wraps a [Sealer].
func NewCodec(sealer *Sealer) *Codec {
	return &Codec{sealer: sealer}
}

// Seal encodes and seals sess. Sessions without a valid pair are refused so a
// partial pair can never be persisted.
func (c *Codec) Seal(sess *Session) ([]byte, error) {
	if sess == nil || !sess.Pair.Valid() {
		return nil, ErrInvalidPair
	}
	plain, err := Encode(sess)
	if err != nil {
		return nil, err
	}
	return c.sealer.Seal(sess.PrincipalID, plain)
}

// Open authenticates and decodes blob for principalID. Any failure is reported
// as [ErrCorrupt] so callers treat the session as absent.
func (c *Codec) Open(principalID string, blob []byte) (*Session, error) {
	plain, err := c.sealer.Open(principalID, blob)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	sess, err := Decode(plain)
	if err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	if sess.PrincipalID != principalID {
		return nil, fmt.Errorf("%w: principal mismatch", ErrCorrupt)
	}
	if !sess.Pair.Valid() {
		return nil, fmt.Errorf("%w: incomplete credential pair", ErrCorrupt)
	}
	return sess, nil
}
