package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/imrishuroy/restaurant-orderflow/internal/money"
)

type fingerprintLine struct {
	Name     string `json:"n"`
	Cents    int64  `json:"p"`
	Quantity int    `json:"q"`
	Notes    string `json:"s"`
	RoleID   string `json:"r"`
}

// Fingerprint identifies the content of the draft: lines, total and table. Two
// submissions of the same cart have equal fingerprints whatever their correlation id.
func (d Draft) Fingerprint() string {
	lines := make([]fingerprintLine, 0, len(d.Items))
	for _, it := range d.Items {
		lines = append(lines, fingerprintLine{
			Name:     it.ItemName,
			Cents:    money.Cents(money.FromFloat(it.Price)),
			Quantity: it.Quantity,
			Notes:    it.SpecialRequests,
			RoleID:   it.RoleID,
		})
	}
	body, _ := json.Marshal(struct {
		Lines []fingerprintLine `json:"l"`
		Total int64             `json:"t"`
		Table string            `json:"tb"`
	}{lines, money.Cents(money.FromFloat(d.Total)), d.TableNumber})

	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
