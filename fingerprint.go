package surveygen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Fingerprint derives a deterministic cache key from an operation name and
// the semantically relevant inputs of that operation. Inputs are encoded as
// JSON, so identical values always hash identically regardless of the call
// site that produced them.
func Fingerprint(operation string, inputs ...any) string {
	h := sha256.New()
	h.Write([]byte(operation))
	for _, in := range inputs {
		data, err := json.Marshal(in)
		if err != nil {
			// Fall back to the string form; still deterministic for a
			// given value, which is all the key scheme requires.
			data = []byte(fmt.Sprintf("%v", in))
		}
		h.Write([]byte{0})
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileFingerprint hashes the content of the file at path. Two files with
// identical bytes map to the same fingerprint, so a renamed copy reuses the
// cached upload handle of the original.
func FileFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
