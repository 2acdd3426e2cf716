package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"mcpgateway/pkg/models"
)

// Redactor pseudonymizes subject identifiers with a salted hash so audit
// sinks outside the trust boundary never hold raw user ids.
type Redactor struct {
	Salt     []byte
	Subjects bool
}

func (r *Redactor) Apply(rec models.AuditRecord) models.AuditRecord {
	if r == nil || !r.Subjects || rec.UserID == "" {
		return rec
	}
	rec.UserID = "sha256:" + hashString(rec.UserID, r.Salt)
	return rec
}

func hashString(v string, salt []byte) string {
	return hashBytes([]byte(v), salt)
}

func hashBytes(b []byte, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
