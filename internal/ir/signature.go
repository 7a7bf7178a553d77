package ir

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Distinct keys keep a
// rule signature from ever colliding with a rule-set digest over the same bytes.
type domainKey [32]byte

var (
	ruleDomainKey = domainKey{
		'p', 'o', 's', 't', 'u', 'r', 'e', '.', 'r', 'u', 'l', 'e', '.',
		's', 'i', 'g', 'n', 'a', 't', 'u', 'r', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	ruleSetDomainKey = domainKey{
		'p', 'o', 's', 't', 'u', 'r', 'e', '.', 'r', 'u', 'l', 'e', 's', 'e', 't',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

func keyedHash(key domainKey, data []byte) string {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes.
		panic(fmt.Sprintf("blake3 keyed hasher: %v", err))
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RuleSignature computes the cooldown key of a rule: a keyed hash over the
// trigger and the canonical form of its conditions. Two rules with the same
// trigger and structurally equal conditions share one cooldown entry.
func RuleSignature(trigger string, conditions Object) (string, error) {
	if conditions == nil {
		conditions = Object{}
	}
	obj := Object{
		"trigger":    String(trigger),
		"conditions": conditions,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("rule signature: %w", err)
	}
	return keyedHash(ruleDomainKey, canonical), nil
}

// RuleSetDigest identifies a compiled rule set by the ordered signatures and
// targets of its rules. Reported in snapshots so operators can tell which
// configuration is live.
func RuleSetDigest(rules []Rule) string {
	arr := make(Array, 0, len(rules))
	for _, r := range rules {
		arr = append(arr, Object{
			"id":        String(r.ID),
			"signature": String(r.Signature),
			"from":      String(r.From.String()),
			"to":        String(r.To.String()),
			"priority":  Int(r.Priority),
		})
	}
	// Only strings and ints above: canonical marshaling cannot fail.
	canonical, _ := MarshalCanonical(arr)
	return keyedHash(ruleSetDomainKey, canonical)
}
