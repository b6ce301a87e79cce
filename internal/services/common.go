package services

import (
	"encoding/hex"
	"fmt"

	"github.com/Avi0n/PocketMesh-sub005/internal/errs"
)

var errUnexpectedResponse = errs.New(errs.KindInvalidResponse, "unexpected response category")

// decodeKeyHex decodes s (a lowercase hex public key, as produced by
// contactID) into dst, which must already be sized to the expected key
// length.
func decodeKeyHex(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return errs.Wrap(errs.KindInvalidResponse, "invalid contact id", err)
	}
	if len(b) != len(dst) {
		return errs.New(errs.KindInvalidResponse, fmt.Sprintf("expected %d key bytes, got %d", len(dst), len(b)))
	}
	copy(dst, b)
	return nil
}

func contactIDHex(pk [32]byte) string {
	return hex.EncodeToString(pk[:])
}
