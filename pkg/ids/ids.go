package ids

import (
	crypto_rand "crypto/rand"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind namespaces an identifier. The prefix is embedded in the id itself so
// that a bare string can be checked against the kind it is supposed to be.
type Kind string

const (
	KindMessage      Kind = "msg"
	KindConversation Kind = "conv"
	KindBranch       Kind = "branch"
)

const suffixLength = 9

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var idPattern = regexp.MustCompile(`^(msg|conv|branch)_(\d{10,})_([a-z0-9]{9})$`)

var fallbackOnce sync.Once
var fallbackRand *rand.Rand
var fallbackMu sync.Mutex

// New returns an identifier of the form <prefix>_<unix-millis>_<9-char-suffix>.
// The millisecond timestamp makes ids of the same kind lexicographically
// time-sortable; the random suffix makes collisions within a single process
// lifetime practically impossible.
//
// The suffix is drawn from crypto/rand. If the crypto source fails, New falls
// back to a time-seeded math/rand source; the downgrade is logged once at warn
// since these ids carry no security expectation beyond uniqueness.
func New(kind Kind) string {
	var sb strings.Builder
	sb.WriteString(string(kind))
	sb.WriteByte('_')
	sb.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	sb.WriteByte('_')
	sb.WriteString(randomSuffix())
	return sb.String()
}

// Validate reports whether id has the shape of a generated identifier of the
// given kind. It never panics; callers use it as a guard on external input.
func Validate(id string, kind Kind) bool {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return false
	}
	return m[1] == string(kind)
}

// TimestampOf extracts the creation instant embedded in an id. The second
// return value is false if the id does not parse.
func TimestampOf(id string) (time.Time, bool) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

func randomSuffix() string {
	buf := make([]byte, suffixLength)
	if _, err := crypto_rand.Read(buf); err != nil {
		return fallbackSuffix(err)
	}
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(buf)
}

func fallbackSuffix(cause error) string {
	fallbackOnce.Do(func() {
		log.Warn().Err(cause).Msg("crypto/rand unavailable, falling back to math/rand for id suffixes")
		fallbackRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	})
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	buf := make([]byte, suffixLength)
	for i := range buf {
		buf[i] = suffixAlphabet[fallbackRand.Intn(len(suffixAlphabet))]
	}
	return string(buf)
}
