package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// CurrentSchemaVersion is the binary layout version written by [Encode].
const CurrentSchemaVersion = 1

const (
	maxPrincipalLen = 1<<16 - 1
	maxTokenLen     = 16 << 10
)

// ErrUnsupportedSchema is returned by [Decode] for unknown layout versions.
var ErrUnsupportedSchema = errors.New("unsupported session schema version")

// Encode serializes sess into the current binary layout:
//
//	[version:1][principalLen:2][principal][accessLen:4][access][refreshLen:4][refresh][issuedAt:8][createdAt:8]
//
// Timestamps are Unix nanoseconds, big-endian.
func Encode(sess *Session) ([]byte, error) {
	if sess == nil {
		return nil, errors.New("nil session")
	}
	if len(sess.PrincipalID) > maxPrincipalLen {
		return nil, errors.New("principalID too long")
	}
	if len(sess.Pair.AccessToken) > maxTokenLen || len(sess.Pair.RefreshToken) > maxTokenLen {
		return nil, errors.New("token too long")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 2 + len(sess.PrincipalID) + 8 + len(sess.Pair.AccessToken) + len(sess.Pair.RefreshToken) + 16)

	buf.WriteByte(CurrentSchemaVersion)

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(sess.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(sess.PrincipalID)

	if err := writeToken(&buf, sess.Pair.AccessToken); err != nil {
		return nil, err
	}
	if err := writeToken(&buf, sess.Pair.RefreshToken); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, unixNano(sess.Pair.IssuedAt)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, unixNano(sess.CreatedAt)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode].
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, version)
	}

	var principalLen uint16
	if err := binary.Read(reader, binary.BigEndian, &principalLen); err != nil {
		return nil, err
	}
	principal := make([]byte, principalLen)
	if _, err := io.ReadFull(reader, principal); err != nil {
		return nil, err
	}

	access, err := readToken(reader)
	if err != nil {
		return nil, err
	}
	refresh, err := readToken(reader)
	if err != nil {
		return nil, err
	}

	var issuedAt, createdAt int64
	if err := binary.Read(reader, binary.BigEndian, &issuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}

	return &Session{
		PrincipalID: string(principal),
		Pair: CredentialPair{
			AccessToken:  access,
			RefreshToken: refresh,
			IssuedAt:     fromUnixNano(issuedAt),
		},
		CreatedAt: fromUnixNano(createdAt),
	}, nil
}

func writeToken(buf *bytes.Buffer, token string) error {
	if err := binary.Write(buf, binary.BigEndian, uint32(len(token))); err != nil {
		return err
	}
	buf.WriteString(token)
	return nil
}

func readToken(reader *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n > maxTokenLen || int(n) > reader.Len() {
		return "", errors.New("token length out of range")
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", err
	}
	return string(out), nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
