package execution

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func NewTransferID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "tr-unknown"
	}
	return fmt.Sprintf("tr_%s", hex.EncodeToString(b))
}
