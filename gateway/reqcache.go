package gateway

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/apibillme/cache"
	"github.com/rs/zerolog"

	"github.com/moddengine/photoproxy/logger"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMemorySize = 256
)

// ReqCache replays successful upstream responses. Entries live in a small in-memory LRU
// in front of the SQLite store; failed responses are never recorded.
type ReqCache struct {
	store  *Store
	memory cache.Cache
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

func NewReqCache(store *Store, ttl time.Duration, memorySize int) *ReqCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if memorySize <= 0 {
		memorySize = DefaultMemorySize
	}
	return &ReqCache{
		store:  store,
		memory: cache.New(memorySize, cache.WithTTL(ttl)),
		ttl:    ttl,
		now:    time.Now,
		log:    logger.New("cache"),
	}
}

// PurgeExpired deletes expired rows every interval until ctx is done.
func (rc *ReqCache) PurgeExpired(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rc.purge()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (rc *ReqCache) purge() {
	n, err := rc.store.DeleteBefore(rc.now().Unix())
	if err != nil {
		rc.log.Err(err).Msg("Failed to purge expired responses")
		return
	}
	if n > 0 {
		rc.log.Debug().Int64("rows", n).Msg("Purged expired responses")
	}
}

func (rc *ReqCache) CachedFetch(req *http.Request, client *http.Client) (*http.Response, error) {
	reqBytes, err := httputil.DumpRequest(req, true)
	if err != nil {
		return nil, err
	}
	md5Hash := md5.Sum(reqBytes)
	reqHash := hex.EncodeToString(md5Hash[:])

	if data, ok := rc.lookup(reqHash); ok {
		res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), req)
		if err == nil {
			rc.log.Debug().Str("host", req.URL.Host).Msg("HIT")
			return res, nil
		}
		rc.log.Warn().Err(err).Msg("Problems decoding cached result")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	respBytes, err := httputil.DumpResponse(resp, true)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	rc.log.Debug().Str("host", req.URL.Host).Int("status", resp.StatusCode).Msg("MISS")

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		rc.memory.Set(reqHash, respBytes)
		if err := rc.store.StoreResponse(reqHash, respBytes, rc.now().Add(rc.ttl).Unix()); err != nil {
			rc.log.Err(err).Msg("Failed to store response")
		}
	}
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(respBytes)), req)
}

func (rc *ReqCache) lookup(hash string) ([]byte, bool) {
	if v, ok := rc.memory.Get(hash); ok {
		if data, ok := v.([]byte); ok {
			return data, true
		}
	}
	data, ok := rc.store.GetResponse(hash, rc.now().Unix())
	if ok {
		rc.memory.Set(hash, data)
	}
	return data, ok
}
