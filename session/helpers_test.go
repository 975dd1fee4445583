package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testSecret = bytes.Repeat([]byte("k"), MinSecretLen)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	sealer, err := NewSealer(testSecret)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return NewCodec(sealer)
}

func testPair(n int) CredentialPair {
	return CredentialPair{
		AccessToken:  "access-" + string(rune('a'+n)),
		RefreshToken: "refresh-" + string(rune('a'+n)),
		IssuedAt:     time.Unix(1_800_000_000+int64(n), 0).UTC(),
	}
}

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb, "cr", testCodec(t), FixedLifetime(time.Hour))
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}
