package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidSignature signals a callback whose hash does not match its fields.
var ErrInvalidSignature = errors.New("payment: invalid callback signature")

// Credentials are the merchant secrets shared with the provider.
type Credentials struct {
	SiteCode   string
	APIKey     string
	PrivateKey string
}

// RequestHash signs an outbound payment request. The concatenation order is
// fixed by the provider.
func RequestHash(c Credentials, reference, amount string) string {
	return sha512Hex(c.SiteCode + c.APIKey + reference + amount + c.PrivateKey)
}

// Callback is the form-encoded notification posted by the provider.
type Callback struct {
	SiteCode             string
	TransactionID        string
	TransactionReference string
	Amount               string
	Status               string
	Optional             [5]string
	CurrencyCode         string
	IsTest               string
	StatusMessage        string
	Hash                 string
}

// CallbackFromForm reads the provider field names.
func CallbackFromForm(form url.Values) Callback {
	cb := Callback{
		SiteCode:             form.Get("SiteCode"),
		TransactionID:        form.Get("TransactionId"),
		TransactionReference: form.Get("TransactionReference"),
		Amount:               form.Get("Amount"),
		Status:               form.Get("Status"),
		CurrencyCode:         form.Get("CurrencyCode"),
		IsTest:               form.Get("IsTest"),
		StatusMessage:        form.Get("StatusMessage"),
		Hash:                 form.Get("Hash"),
	}
	for i := range cb.Optional {
		cb.Optional[i] = form.Get("Optional" + string(rune('1'+i)))
	}
	return cb
}

// Test reports whether the provider flagged the callback as a sandbox payment.
func (c Callback) Test() bool {
	return strings.EqualFold(c.IsTest, "true")
}

// CallbackHash is the expected Hash for the callback fields.
func CallbackHash(c Callback, privateKey string) string {
	var b strings.Builder
	b.WriteString(c.SiteCode)
	b.WriteString(c.TransactionID)
	b.WriteString(c.TransactionReference)
	b.WriteString(c.Amount)
	b.WriteString(c.Status)
	for _, opt := range c.Optional {
		b.WriteString(opt)
	}
	b.WriteString(c.CurrencyCode)
	b.WriteString(c.IsTest)
	b.WriteString(c.StatusMessage)
	b.WriteString(privateKey)
	return sha512Hex(strings.ToLower(b.String()))
}

// VerifyCallback compares the received hash in constant time.
func VerifyCallback(c Callback, privateKey string) error {
	want := CallbackHash(c, privateKey)
	got := strings.ToLower(strings.TrimSpace(c.Hash))
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func sha512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}
