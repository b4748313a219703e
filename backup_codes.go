package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strings"
	"time"
)

// Backup codes are eight random digits, shown as NNNN-NNNN. Digits over
// letters because recovery codes get read over the phone and typed on
// duty phones; the hyphen is display-only and stripped on entry.
const (
	backupCodeDigits = "0123456789"
	backupCodeLength = 8
)

// generateBackupCode returns a single plaintext code in canonical form
// (digits only, no separator). Each digit is drawn with rand.Int so no
// digit is favored.
func generateBackupCode() (string, error) {
	alphabetLen := big.NewInt(int64(len(backupCodeDigits)))
	buf := make([]byte, backupCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		buf[i] = backupCodeDigits[n.Int64()]
	}
	return string(buf), nil
}

// formatBackupCode renders a canonical code for display: NNNN-NNNN.
func formatBackupCode(code string) string {
	if len(code) != backupCodeLength {
		return code
	}
	return code[:4] + "-" + code[4:]
}

// canonicalizeBackupCode strips separators and whitespace from user
// input. Returns "" when the result is not a well-formed code.
func canonicalizeBackupCode(input string) string {
	var b strings.Builder
	b.Grow(backupCodeLength)
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == ' ':
			// separator, ignore
		default:
			return ""
		}
	}
	if b.Len() != backupCodeLength {
		return ""
	}
	return b.String()
}

// backupCodeHash derives the stored hash for a canonical code. The
// account ID acts as a salt so identical codes across accounts hash
// differently and a leaked table cannot be attacked with one rainbow
// table.
func backupCodeHash(accountID, code string) [32]byte {
	h := sha256.New()
	h.Write([]byte(accountID))
	h.Write([]byte{0})
	h.Write([]byte(code))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// mintBackupCodes generates count fresh codes, returning the display
// forms alongside the records to persist.
func mintBackupCodes(accountID string, count int, now time.Time) ([]string, []BackupCodeRecord, error) {
	display := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)

	for i := 0; i < count; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, nil, err
		}
		display = append(display, formatBackupCode(code))
		records = append(records, BackupCodeRecord{
			Hash:      backupCodeHash(accountID, code),
			CreatedAt: now,
		})
	}

	return display, records, nil
}
