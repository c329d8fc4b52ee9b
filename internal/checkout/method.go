package checkout

import "strings"

// Method is the payment method chosen at finalize time.
type Method string

const (
	MethodCash   Method = "cash"
	MethodDebit  Method = "debit"
	MethodCredit Method = "credit"
	MethodPix    Method = "pix"
	MethodOther  Method = "other"
)

// Methods lists every supported method in display order.
func Methods() []Method {
	return []Method{MethodCash, MethodDebit, MethodCredit, MethodPix, MethodOther}
}

// ParseMethod normalises a method name. The second return is false for
// unknown methods.
func ParseMethod(value string) (Method, bool) {
	m := Method(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Methods() {
		if m == known {
			return m, true
		}
	}
	return "", false
}

// IsCash reports whether the method moves physical money through the drawer.
func (m Method) IsCash() bool {
	return m == MethodCash
}

// Valid reports whether m is a supported method.
func (m Method) Valid() bool {
	_, ok := ParseMethod(string(m))
	return ok
}
