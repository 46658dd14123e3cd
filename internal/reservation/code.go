package reservation

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	codePrefix     = "ORD"
	codeSuffixLen  = 6
	codeSuffixChar = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewCode builds an order-group code "ORD-<base36 unix millis>-<random>".
func NewCode(now time.Time) (string, error) {
	suffix := make([]byte, codeSuffixLen)
	limit := big.NewInt(int64(len(codeSuffixChar)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		suffix[i] = codeSuffixChar[n.Int64()]
	}
	stamp := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return codePrefix + "-" + stamp + "-" + string(suffix), nil
}
