package models

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedGUID is returned when an identifier cannot be decoded.
var ErrMalformedGUID = errors.New("malformed guid")

// GUID is the decoded form of a self-describing signal identifier:
// base64("<accountId>|<domain>|<type>|<domainId>").
type GUID struct {
	AccountID int64
	Domain    string
	Type      string
	DomainID  string
}

// DecodeGUID parses an opaque guid into its parts.
func DecodeGUID(raw string) (GUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return GUID{}, fmt.Errorf("%w: empty", ErrMalformedGUID)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return GUID{}, fmt.Errorf("%w: %v", ErrMalformedGUID, err)
		}
	}
	parts := strings.SplitN(string(data), "|", 4)
	if len(parts) != 4 {
		return GUID{}, fmt.Errorf("%w: expected 4 segments, got %d", ErrMalformedGUID, len(parts))
	}
	account, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || account <= 0 {
		return GUID{}, fmt.Errorf("%w: bad account id %q", ErrMalformedGUID, parts[0])
	}
	if parts[3] == "" {
		return GUID{}, fmt.Errorf("%w: empty domain id", ErrMalformedGUID)
	}
	return GUID{AccountID: account, Domain: parts[1], Type: parts[2], DomainID: parts[3]}, nil
}

// String encodes the guid back to its opaque form.
func (g GUID) String() string {
	return EncodeGUID(g.AccountID, g.Domain, g.Type, g.DomainID)
}

// EncodeGUID builds an opaque guid.
func EncodeGUID(accountID int64, domain, typ, domainID string) string {
	plain := fmt.Sprintf("%d|%s|%s|%s", accountID, domain, typ, domainID)
	return base64.StdEncoding.EncodeToString([]byte(plain))
}

// ConditionGUID builds the guid of an alert condition.
func ConditionGUID(accountID int64, conditionID string) string {
	return EncodeGUID(accountID, "AIOPS", "CONDITION", conditionID)
}
